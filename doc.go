// Package invgo is an embedded, disk based inverted index with Lucene's
// write model: documents are buffered per thread, flushed into immutable
// segments, merged in the background and published by generation
// numbered commits.
//
// # Quick Start
//
//	idx, _ := invgo.Open("./index")
//	defer idx.Close()
//
//	w := idx.Writer()
//	w.AddDocument(document.New(
//	    document.NewStringField("id", "1", true),
//	    document.NewTextField("body", "hello inverted world", true),
//	))
//	idx.Commit(ctx)
//
//	r, _ := idx.Reader()
//	defer r.Close()
//	fmt.Println(r.NumDocs())
//
// # Packages
//
//   - index: the writer, segment readers, commits and deletion policies
//   - codec, codec/standard: the on-disk formats (Invgo10, legacy Invgo09)
//   - store: FS, mmap and RAM directories with a native write lock
//   - merge: tiered and log merge policies, serial and concurrent schedulers
//   - check, upgrade: the consistency checker and the index upgrader
//   - backup, blobstore: incremental commit backups to local, S3 or MinIO
//
// # Durability Model
//
// Changes become visible to new readers after a flush and durable after
// Commit. A commit writes segments_N last; readers open the highest
// complete generation, so a crash never exposes a partial commit.
//
// # Configuration
//
// Writer settings come from functional options, a YAML file
// (WithConfigFile) and INVGO_* environment variables.
package invgo
