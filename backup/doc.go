// Package backup copies index commits to a blob store and restores them.
//
// Backups are incremental. Index files are write-once, so every file is
// stored once under a key derived from its name and CRC32-C checksum and
// shared by all manifests that reference it:
//
//	files/<name>.<crc>[.zst]   file content
//	manifests/<id>             msgpack encoded Manifest
//	LATEST                     id of the newest manifest
//
// A live writer keeps the commit being copied alive through an
// index.SnapshotDeletionPolicy:
//
//	sdp := index.NewSnapshotDeletionPolicy(index.KeepOnlyLastCommit{})
//	w, _ := index.Open(dir, index.WithDeletionPolicy(sdp))
//	...
//	m, err := backup.New(blobs).Backup(ctx, sdp)
//
// Restore writes the segments file last, so an interrupted restore never
// leaves a readable commit that references missing files.
package backup
