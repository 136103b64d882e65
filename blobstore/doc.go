// Package blobstore stores immutable, named blobs. Backups of an index
// are written to a BlobStore.
//
// # Built-in Implementations
//
//   - MemoryStore: in memory, for tests
//   - LocalStore: local file system, reads are memory mapped
//   - CachingStore: block cache in front of a remote store
//   - s3.Store, s3.ExpressStore, s3.DDBCommitStore: Amazon S3, optionally
//     with a DynamoDB commit pointer
//   - minio.Store: MinIO and other S3 compatible services
//
// Names are slash separated. A store never overwrites a blob in place:
// Put and Create replace the blob atomically.
package blobstore
