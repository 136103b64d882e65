// Package minio stores blobs in MinIO or any other S3 compatible service
// (Ceph, Garage, SeaweedFS) through the MinIO client. It needs no AWS
// configuration.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	store := minioblob.NewStore(client, "my-bucket", "backups/")
package minio
