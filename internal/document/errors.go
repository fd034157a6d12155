package document

import "errors"

var (
	// ErrUnsupportedType is returned for document formats the extractor cannot read
	ErrUnsupportedType = errors.New("unsupported document type")

	// ErrEmptyFile is returned when the document has no content
	ErrEmptyFile = errors.New("document is empty")

	// ErrLowQuality is returned when the extracted text is too short or mostly noise
	ErrLowQuality = errors.New("extracted text quality too low")
)
