package standard

import (
	"bytes"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/document"
	"github.com/hupe1980/invgo/store"
)

// readSealed opens name, checks its header and full checksum and hands the
// decoder positioned after the header to fn. fn must consume everything up
// to the footer.
func readSealed(dir store.Directory, name, format string, version int32, fn func(d *store.Decoder) error) error {
	in, err := openInput(dir, name, format, version)
	if err != nil {
		return err
	}
	defer in.Close()
	if _, err := store.ChecksumEntireFile(in.Clone()); err != nil {
		return err
	}
	d := store.NewDecoder(in)
	if err := fn(d); err != nil {
		return err
	}
	if err := d.Err(); err != nil {
		return err
	}
	_, err = store.CheckFooter(in)
	return err
}

// writeSealed creates name with a header, lets fn write the body and seals
// it with a footer. The file is removed on failure.
func writeSealed(dir store.Directory, name, format string, version int32, fn func(e *store.Encoder)) error {
	out, err := createOutput(dir, name, format, version)
	if err != nil {
		return err
	}
	e := store.NewEncoder(out)
	fn(e)
	if err = e.Err(); err == nil {
		err = finishOutput(out)
	} else {
		_ = out.Close()
	}
	if err != nil {
		_ = dir.DeleteFile(name)
	}
	return err
}

const (
	fieldStoreTermVectors = 1 << iota
	fieldStorePayloads
	fieldOmitNorms
)

type fieldInfosFormat struct{ c *Codec }

func fieldInfosFileName(segment string, gen int64) string {
	if gen < 0 {
		return codec.SegmentFileName(segment, "", codec.FieldInfosExtension)
	}
	return codec.FileNameFromGeneration(segment, codec.FieldInfosExtension, gen)
}

func (f fieldInfosFormat) Read(dir store.Directory, segment string, gen int64) (*codec.FieldInfos, error) {
	var infos []*codec.FieldInfo
	err := readSealed(dir, fieldInfosFileName(segment, gen), fieldInfosCodec, f.c.version, func(d *store.Decoder) error {
		n := d.Int()
		for i := 0; i < n && d.Err() == nil; i++ {
			fi := &codec.FieldInfo{Name: d.String(), Number: d.Int()}
			opts := document.IndexOptions(d.Byte())
			flags := d.Byte()
			fi.IndexOptions = opts
			fi.StoreTermVectors = flags&fieldStoreTermVectors != 0
			fi.StorePayloads = flags&fieldStorePayloads != 0
			fi.OmitNorms = flags&fieldOmitNorms != 0
			fi.DocValuesType = document.DocValuesType(d.Byte())
			fi.DocValuesGen = d.Varint()
			if attrs := d.StringMap(); len(attrs) > 0 {
				fi.Attributes = attrs
			}
			if opts > document.DocsAndFreqsAndPositionsAndOffsets {
				return store.Corruptf(d.Input().Name(), "invalid index options %d for field %q", opts, fi.Name)
			}
			if fi.DocValuesType > document.DocValuesSortedNumeric {
				return store.Corruptf(d.Input().Name(), "invalid doc values type %d for field %q", fi.DocValuesType, fi.Name)
			}
			infos = append(infos, fi)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	fis, err := codec.NewFieldInfos(infos)
	if err != nil {
		return nil, &store.CorruptIndexError{Resource: fieldInfosFileName(segment, gen), Msg: "invalid field infos", Err: err}
	}
	return fis, nil
}

// Write writes the schema. Update generations (gen >= 0) are written
// even by read-only codecs so old segments accept doc values updates.
func (f fieldInfosFormat) Write(dir store.Directory, segment string, gen int64, infos *codec.FieldInfos) (string, error) {
	if gen < 0 {
		if err := f.c.checkWritable(); err != nil {
			return "", err
		}
	}
	name := fieldInfosFileName(segment, gen)
	return name, writeSealed(dir, name, fieldInfosCodec, f.c.version, func(e *store.Encoder) {
		e.Uvarint(uint64(infos.Len()))
		for _, fi := range infos.All() {
			var flags byte
			if fi.StoreTermVectors {
				flags |= fieldStoreTermVectors
			}
			if fi.StorePayloads {
				flags |= fieldStorePayloads
			}
			if fi.OmitNorms {
				flags |= fieldOmitNorms
			}
			e.String(fi.Name)
			e.Uvarint(uint64(fi.Number))
			e.Byte(byte(fi.IndexOptions))
			e.Byte(flags)
			e.Byte(byte(fi.DocValuesType))
			e.Varint(fi.DocValuesGen)
			e.StringMap(fi.Attributes)
		}
	})
}

type segmentInfoFormat struct{ c *Codec }

func (f segmentInfoFormat) Read(dir store.Directory, segment string) (*codec.SegmentInfo, error) {
	si := &codec.SegmentInfo{Name: segment, Codec: f.c.name, Dir: dir}
	err := readSealed(dir, codec.SegmentFileName(segment, "", codec.SegmentInfoExtension), segmentInfoCodec, f.c.version, func(d *store.Decoder) error {
		si.Version = d.String()
		var id [16]byte
		d.ReadInto(id[:])
		si.ID = uuid.UUID(id)
		si.MaxDoc = d.Int()
		si.UseCompoundFile = d.Bool()
		si.Diagnostics = d.StringMap()
		si.Attributes = d.StringMap()
		si.SetFiles(d.StringSet())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return si, nil
}

func (f segmentInfoFormat) Write(dir store.Directory, si *codec.SegmentInfo) error {
	if err := f.c.checkWritable(); err != nil {
		return err
	}
	name := codec.SegmentFileName(si.Name, "", codec.SegmentInfoExtension)
	si.AddFiles(name)
	return writeSealed(dir, name, segmentInfoCodec, f.c.version, func(e *store.Encoder) {
		e.String(si.Version)
		e.Raw(si.ID[:])
		e.Uvarint(uint64(si.MaxDoc))
		e.Bool(si.UseCompoundFile)
		e.StringMap(si.Diagnostics)
		e.StringMap(si.Attributes)
		e.StringSet(si.Files())
	})
}

type liveDocsFormat struct{ c *Codec }

func (f liveDocsFormat) Read(dir store.Directory, si *codec.SegmentInfo, delGen int64, delCount int) (*codec.LiveDocs, error) {
	name := codec.FileNameFromGeneration(si.Name, codec.LiveDocsExtension, delGen)
	deleted := roaring.New()
	err := readSealed(dir, name, liveDocsCodec, f.c.version, func(d *store.Decoder) error {
		var id [16]byte
		d.ReadInto(id[:])
		maxDoc := d.Int()
		raw := d.ByteSlice()
		if d.Err() != nil {
			return nil
		}
		if !bytes.Equal(id[:], si.ID[:]) {
			return store.Corruptf(name, "segment id mismatch: file=%s segment=%s", uuid.UUID(id), si.ID)
		}
		if maxDoc != si.MaxDoc {
			return store.Corruptf(name, "maxDoc mismatch: file=%d segment=%d", maxDoc, si.MaxDoc)
		}
		if err := deleted.UnmarshalBinary(raw); err != nil {
			return &store.CorruptIndexError{Resource: name, Msg: "invalid deleted docs bitmap", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if got := int(deleted.GetCardinality()); got != delCount {
		return nil, store.Corruptf(name, "deleted count mismatch: file=%d expected=%d", got, delCount)
	}
	if deleted.GetCardinality() > 0 && int(deleted.Maximum()) >= si.MaxDoc {
		return nil, store.Corruptf(name, "deleted doc %d out of bounds [0, %d)", deleted.Maximum(), si.MaxDoc)
	}
	return codec.LiveDocsFromDeleted(si.MaxDoc, deleted), nil
}

// Write writes a deletions generation. Read-only codecs write them too:
// deleting from an old segment must not require rewriting it.
func (f liveDocsFormat) Write(dir store.Directory, si *codec.SegmentInfo, delGen int64, live *codec.LiveDocs) (string, error) {
	if delGen <= 0 {
		return "", fmt.Errorf("%w: live docs generation must be positive, got %d", codec.ErrIllegalArgument, delGen)
	}
	raw, err := live.Deleted().ToBytes()
	if err != nil {
		return "", err
	}
	name := codec.FileNameFromGeneration(si.Name, codec.LiveDocsExtension, delGen)
	return name, writeSealed(dir, name, liveDocsCodec, f.c.version, func(e *store.Encoder) {
		e.Raw(si.ID[:])
		e.Uvarint(uint64(si.MaxDoc))
		e.ByteSlice(raw)
	})
}
