package arbor

import (
	"bytes"
	"errors"
	"io"
	"os"
	"reflect"
	"time"
)

// DefaultMimeType is written for file content with no explicit mime type.
const DefaultMimeType = "application/octet-stream"

// File is the embeddable base for file entities. A struct that embeds File
// maps to a file node whose binary content lives on a resource child node,
// and may carry additional mapped fields of its own.
//
//	type Attachment struct {
//	    arbor.File
//	    Label string `arbor:"prop"`
//	}
//
// Name and Path are populated by the mapper like any other entity. The
// remaining fields describe the content and travel with the resource node.
type File struct {
	Name string `arbor:"name"`
	Path string `arbor:"path"`

	MimeType     string
	Encoding     string
	LastModified time.Time

	// Content supplies the binary payload on write and exposes it on
	// read. Leave nil on update to keep the stored content untouched.
	Content DataProvider
}

func (f *File) fileRecord() *File { return f }

// FileEntity is implemented by every struct that embeds File.
type FileEntity interface {
	fileRecord() *File
}

var fileEntityType = reflect.TypeOf((*FileEntity)(nil)).Elem()

// DataProvider supplies binary content for file entities. Implementations
// backed by memory or the filesystem are re-readable; stream providers are
// consumed by the first read.
type DataProvider interface {
	// Bytes returns the whole content in memory.
	Bytes() ([]byte, error)

	// Reader returns a reader over the content. The caller closes it.
	Reader() (io.ReadCloser, error)

	// Length returns the content length in bytes, or -1 when unknown.
	Length() int64
}

// NewBytesProvider returns a DataProvider over an in-memory payload.
func NewBytesProvider(data []byte) DataProvider {
	return &bytesProvider{data: data}
}

type bytesProvider struct {
	data []byte
}

func (p *bytesProvider) Bytes() ([]byte, error) { return p.data, nil }

func (p *bytesProvider) Reader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(p.data)), nil
}

func (p *bytesProvider) Length() int64 { return int64(len(p.data)) }

// NewFileProvider returns a DataProvider reading from a filesystem path.
// The file is opened on each read, not held open.
func NewFileProvider(path string) DataProvider {
	return &fileProvider{path: path}
}

type fileProvider struct {
	path string
}

func (p *fileProvider) Bytes() ([]byte, error) { return os.ReadFile(p.path) }

func (p *fileProvider) Reader() (io.ReadCloser, error) { return os.Open(p.path) }

func (p *fileProvider) Length() int64 {
	info, err := os.Stat(p.path)
	if err != nil {
		return -1
	}
	return info.Size()
}

// NewStreamProvider returns a DataProvider over a reader. Pass -1 for
// length when it is not known up front. The stream can be read once.
func NewStreamProvider(r io.Reader, length int64) DataProvider {
	return &streamProvider{r: r, length: length}
}

type streamProvider struct {
	r        io.Reader
	length   int64
	consumed bool
}

var errStreamConsumed = errors.New("arbor: stream content already consumed")

func (p *streamProvider) Bytes() ([]byte, error) {
	if p.consumed {
		return nil, errStreamConsumed
	}
	p.consumed = true
	return io.ReadAll(p.r)
}

func (p *streamProvider) Reader() (io.ReadCloser, error) {
	if p.consumed {
		return nil, errStreamConsumed
	}
	p.consumed = true
	if rc, ok := p.r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(p.r), nil
}

func (p *streamProvider) Length() int64 { return p.length }

// nodeProvider serves content straight from a stored resource node, reading
// the data property on each access. Produced when file entities are mapped
// with the default stream load type.
type nodeProvider struct {
	load   func() ([]byte, error)
	path   string
	length int64
}

func (p *nodeProvider) Bytes() ([]byte, error) { return p.load() }

func (p *nodeProvider) Reader() (io.ReadCloser, error) {
	data, err := p.load()
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (p *nodeProvider) Length() int64 { return p.length }

// persistedAt lets the update path recognize content that already lives on
// the node being written, so it is not pointlessly copied onto itself.
func (p *nodeProvider) persistedAt() string { return p.path }
