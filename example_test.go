package invgo_test

import (
	"context"
	"fmt"
	"log"

	"github.com/hupe1980/invgo"
	"github.com/hupe1980/invgo/blobstore"
	"github.com/hupe1980/invgo/document"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/store"
)

func Example() {
	ctx := context.Background()
	idx, err := invgo.Open("", invgo.WithDirectoryKind(store.KindRAM))
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()

	for i, body := range []string{"red fox", "lazy dog", "red dog"} {
		_, err := idx.Writer().AddDocument(document.New(
			document.NewStringField("id", fmt.Sprint(i), true),
			document.NewTextField("body", body, true),
		))
		if err != nil {
			log.Fatal(err)
		}
	}
	if _, err := idx.Commit(ctx); err != nil {
		log.Fatal(err)
	}

	r, err := idx.Reader()
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()

	n, err := r.DocFreq(index.NewTerm("body", "red"))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(r.NumDocs(), n)
	// Output: 3 2
}

func ExampleIndex_Backup() {
	ctx := context.Background()
	idx, err := invgo.Open("", invgo.WithDirectoryKind(store.KindRAM))
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()

	_, _ = idx.Writer().AddDocument(document.New(document.NewTextField("body", "backed up", true)))
	if _, err := idx.Commit(ctx); err != nil {
		log.Fatal(err)
	}

	m, err := idx.Backup(ctx, blobstore.NewMemoryStore())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(m.Generation > 0, m.Uploaded() == len(m.Files))
	// Output: true true
}
