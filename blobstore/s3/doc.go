// Package s3 stores blobs in Amazon S3.
//
// Store uses standard buckets, ExpressStore S3 Express One Zone directory
// buckets. DDBCommitStore wraps a Store and keeps the backup pointer in a
// DynamoDB table, giving concurrent backup writers an atomic
// compare-and-swap that S3 lacks.
//
//	store, err := s3.New(ctx, "my-bucket", s3.WithPrefix("backups/"))
package s3
