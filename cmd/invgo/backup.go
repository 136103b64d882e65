package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/hupe1980/invgo/backup"
	"github.com/hupe1980/invgo/blobstore"
	"github.com/hupe1980/invgo/blobstore/minio"
	"github.com/hupe1980/invgo/blobstore/s3"
	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/internal/config"
	"github.com/hupe1980/invgo/store"
)

// targetFlags override the backup section of the configuration.
func targetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "target", Usage: "blob store kind: local, s3 or minio"},
		&cli.StringFlag{Name: "path", Usage: "root directory of a local target"},
		&cli.StringFlag{Name: "bucket", Usage: "bucket of an s3 or minio target"},
		&cli.StringFlag{Name: "prefix", Usage: "key prefix inside the bucket"},
		&cli.StringFlag{Name: "region", Usage: "AWS region"},
		&cli.StringFlag{Name: "endpoint", Usage: "custom S3 or MinIO endpoint"},
		&cli.StringFlag{Name: "dynamo-table", Usage: "DynamoDB table guarding the LATEST pointer on s3"},
		&cli.IntFlag{Name: "concurrency", Usage: "files copied in parallel"},
	}
}

func (t *tool) backupConfig(c *cli.Context) config.BackupConfig {
	bc := t.cfg.Backup
	set := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	set("target", &bc.Target)
	set("path", &bc.Path)
	set("bucket", &bc.Bucket)
	set("prefix", &bc.Prefix)
	set("region", &bc.Region)
	set("endpoint", &bc.Endpoint)
	set("dynamo-table", &bc.DynamoTable)
	set("compression", &bc.Compression)
	if c.IsSet("concurrency") {
		bc.Concurrency = c.Int("concurrency")
	}
	if c.IsSet("keep") {
		bc.Keep = c.Int("keep")
	}
	return bc
}

func openBlobStore(ctx context.Context, bc config.BackupConfig) (blobstore.BlobStore, error) {
	switch bc.Target {
	case "local", "":
		if bc.Path == "" {
			return nil, cli.Exit("a local backup target needs --path", 2)
		}
		return blobstore.NewLocalStore(bc.Path), nil
	case "s3":
		if bc.Bucket == "" {
			return nil, cli.Exit("an s3 backup target needs --bucket", 2)
		}
		opts := []s3.Option{s3.WithPrefix(bc.Prefix)}
		if bc.Region != "" {
			opts = append(opts, s3.WithRegion(bc.Region))
		}
		if bc.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(bc.Endpoint))
		}
		if bc.DynamoTable != "" {
			return s3.NewCommitStore(ctx, bc.Bucket, bc.DynamoTable, opts...)
		}
		return s3.New(ctx, bc.Bucket, opts...)
	case "minio":
		if bc.Bucket == "" || bc.Endpoint == "" {
			return nil, cli.Exit("a minio backup target needs --bucket and --endpoint", 2)
		}
		return minio.Dial(ctx, bc.Endpoint, bc.AccessKey, bc.SecretKey, bc.Secure, bc.Bucket, bc.Prefix)
	default:
		return nil, cli.Exit(fmt.Sprintf("unknown backup target %q", bc.Target), 2)
	}
}

func (t *tool) backuper(c *cli.Context, bc config.BackupConfig, opts ...backup.Option) (*backup.Backuper, error) {
	bs, err := openBlobStore(c.Context, bc)
	if err != nil {
		return nil, err
	}
	opts = append([]backup.Option{
		backup.WithLogger(t.logger.Logger),
		backup.WithConcurrency(bc.Concurrency),
		backup.WithCompression(backup.Compression(bc.Compression)),
	}, opts...)
	return backup.New(bs, opts...), nil
}

func (t *tool) backupCommand() *cli.Command {
	return &cli.Command{
		Name:      "backup",
		Usage:     "copy the newest commit of a closed index to a blob store",
		ArgsUsage: "<index-dir>",
		Description: "The write lock is held while copying, so no writer may have the index open. " +
			"Files already present in the target are not uploaded again.",
		Flags: append(targetFlags(),
			&cli.StringFlag{Name: "compression", Usage: "compression of new files: none or zstd"},
			&cli.IntFlag{Name: "keep", Usage: "prune all but this many backups afterwards, 0 keeps all"},
			dirImplFlag,
		),
		Action: t.backup,
	}
}

func (t *tool) backup(c *cli.Context) error {
	bc := t.backupConfig(c)
	if bc.Compression != string(backup.CompressionNone) && bc.Compression != string(backup.CompressionZstd) {
		return cli.Exit(fmt.Sprintf("unknown compression %q", bc.Compression), 2)
	}
	dir, _, err := t.openIndexDir(c)
	if err != nil {
		return err
	}
	defer dir.Close()

	lock, err := store.ObtainLockWithTimeout(c.Context, dir, codec.WriteLockName, t.cfg.Writer.WriteLockTimeout)
	if err != nil {
		return fmt.Errorf("lock index: %w", err)
	}
	defer lock.Close()

	commits, err := index.ListCommits(dir)
	if err != nil {
		return err
	}
	b, err := t.backuper(c, bc)
	if err != nil {
		return err
	}
	m, err := b.BackupCommit(c.Context, commits[len(commits)-1])
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "backup %s: generation %d, %d files (%d uploaded), %s\n",
		m.ID, m.Generation, len(m.Files), m.Uploaded(), humanize.IBytes(uint64(m.Size())))

	if bc.Keep > 0 {
		res, err := b.Prune(c.Context, bc.Keep)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.out, "pruned %d backups and %d files\n", len(res.Manifests), len(res.Files))
	}
	return nil
}

func (t *tool) restoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "restore a backup into an empty directory",
		ArgsUsage: "<index-dir>",
		Flags: append(targetFlags(),
			&cli.StringFlag{Name: "id", Usage: "backup to restore, the latest if empty"},
			&cli.BoolFlag{Name: "verify", Usage: "check the restored index", Value: true},
			dirImplFlag,
		),
		Action: t.restore,
	}
}

func (t *tool) restore(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("missing index path", 2)
	}
	kind, err := dirKind(c.String("dir-impl"))
	if err != nil {
		return err
	}
	b, err := t.backuper(c, t.backupConfig(c), backup.WithVerify(c.Bool("verify")))
	if err != nil {
		return err
	}
	dst, err := store.Open(kind, path)
	if err != nil {
		return err
	}
	defer dst.Close()

	start := time.Now()
	m, err := b.Restore(c.Context, c.String("id"), dst)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "restored backup %s (generation %d, %d files, %s) in %s\n",
		m.ID, m.Generation, len(m.Files), humanize.IBytes(uint64(m.Size())),
		time.Since(start).Round(time.Millisecond))
	return nil
}

func (t *tool) backupsCommand() *cli.Command {
	return &cli.Command{
		Name:   "backups",
		Usage:  "list the backups in a blob store",
		Flags:  targetFlags(),
		Action: t.listBackups,
	}
}

func (t *tool) listBackups(c *cli.Context) error {
	b, err := t.backuper(c, t.backupConfig(c))
	if err != nil {
		return err
	}
	ms, err := b.List(c.Context)
	if err != nil {
		return err
	}
	latest, err := b.Latest(c.Context)
	if err != nil && len(ms) > 0 {
		return err
	}

	tw := tabwriter.NewWriter(t.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "id\tgeneration\tsegments\tfiles\tsize\tcreated\t")
	for _, m := range ms {
		id := m.ID
		if latest != nil && latest.ID == m.ID {
			id += " *"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\t\n",
			id, m.Generation, m.SegmentCount, len(m.Files),
			humanize.IBytes(uint64(m.Size())), humanize.Time(m.Created))
	}
	return tw.Flush()
}
