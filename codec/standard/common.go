package standard

import (
	"io"

	"github.com/hashicorp/go-multierror"

	"github.com/hupe1980/invgo/store"
)

// File extensions written by the standard codecs.
const (
	termsExt         = "tim"
	termsIndexExt    = "tip"
	docExt           = "doc"
	posExt           = "pos"
	bloomExt         = "blm"
	storedDataExt    = "fdt"
	storedIndexExt   = "fdx"
	vectorsDataExt   = "tvd"
	vectorsIndexExt  = "tvx"
	docValuesDataExt = "dvd"
	docValuesMetaExt = "dvm"
	normsDataExt     = "nvd"
	normsMetaExt     = "nvm"
)

// Header format names.
const (
	termsCodec        = "InvgoTermsDict"
	termsIndexCodec   = "InvgoTermsIndex"
	docCodec          = "InvgoPostingsDoc"
	posCodec          = "InvgoPostingsPos"
	bloomCodec        = "InvgoBloom"
	storedDataCodec   = "InvgoStoredFieldsData"
	storedIndexCodec  = "InvgoStoredFieldsIndex"
	vectorsDataCodec  = "InvgoTermVectorsData"
	vectorsIndexCodec = "InvgoTermVectorsIndex"
	docValuesCodec    = "InvgoDocValues"
	normsCodec        = "InvgoNorms"
	fieldInfosCodec   = "InvgoFieldInfos"
	segmentInfoCodec  = "InvgoSegmentInfo"
	liveDocsCodec     = "InvgoLiveDocs"
)

// createOutput creates name and writes its header.
func createOutput(dir store.Directory, name, format string, version int32) (store.IndexOutput, error) {
	out, err := dir.CreateOutput(name)
	if err != nil {
		return nil, err
	}
	if err := store.WriteHeader(out, format, version); err != nil {
		_ = out.Close()
		return nil, err
	}
	return out, nil
}

// openInput opens name and checks its header.
func openInput(dir store.Directory, name, format string, version int32) (store.IndexInput, error) {
	in, err := dir.OpenInput(name)
	if err != nil {
		return nil, err
	}
	if _, err := store.CheckHeader(in, format, version, version); err != nil {
		_ = in.Close()
		return nil, err
	}
	return in, nil
}

// finishOutput seals out with a footer and closes it.
func finishOutput(out store.IndexOutput) error {
	if err := store.WriteFooter(out); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// closeAll closes every non-nil closer and joins the errors.
func closeAll[C io.Closer](closers ...C) error {
	var result *multierror.Error
	for _, c := range closers {
		if any(c) == nil {
			continue
		}
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// verifyAll checks the checksum of every non-nil input on a clone.
func verifyAll(inputs ...store.IndexInput) error {
	for _, in := range inputs {
		if in == nil {
			continue
		}
		if _, err := store.ChecksumEntireFile(in.Clone()); err != nil {
			return err
		}
	}
	return nil
}
