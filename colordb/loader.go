package colordb

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/Tutortoise/traffic-signal-service/apperrors"
	"github.com/Tutortoise/traffic-signal-service/logger"
	"github.com/sirupsen/logrus"
)

const minFields = 6

// Opener yields the raw CSV stream of a reference table.
type Opener interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// Options carries backend credentials for remote sources.
type Options struct {
	AWSRegion                    string
	AzureStorageConnectionString string
}

// OpenerFor picks a backend from the source URI: s3://bucket/key,
// azblob://container/blob, file://path or a plain path.
func OpenerFor(ctx context.Context, source string, opts Options) (Opener, error) {
	switch {
	case strings.HasPrefix(source, "s3://"):
		bucket, key, err := splitBucketKey(strings.TrimPrefix(source, "s3://"))
		if err != nil {
			return nil, err
		}
		return NewS3Opener(ctx, bucket, key, opts.AWSRegion)
	case strings.HasPrefix(source, "azblob://"):
		container, blob, err := splitBucketKey(strings.TrimPrefix(source, "azblob://"))
		if err != nil {
			return nil, err
		}
		return NewAzureOpener(opts.AzureStorageConnectionString, container, blob)
	default:
		return fileOpener{path: strings.TrimPrefix(source, "file://")}, nil
	}
}

func splitBucketKey(rest string) (string, string, error) {
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid object location %q", rest)
	}
	return bucket, key, nil
}

// Load reads the table at source. A missing source yields a data
// unavailable error; callers usually fall back to Empty.
func Load(ctx context.Context, source string, opts Options) (*Store, error) {
	opener, err := OpenerFor(ctx, source, opts)
	if err != nil {
		return nil, apperrors.NewDataUnavailableError("color reference source is misconfigured", err)
	}
	return LoadFrom(ctx, opener)
}

func LoadFrom(ctx context.Context, opener Opener) (*Store, error) {
	rc, err := opener.Open(ctx)
	if err != nil {
		if apperrors.IsType(err, apperrors.TypeDataUnavailable) {
			return nil, err
		}
		return nil, apperrors.NewDataUnavailableError(fmt.Sprintf("cannot open %s", opener), err)
	}
	defer rc.Close()

	records, err := Parse(rc)
	if err != nil {
		return nil, apperrors.NewDataUnavailableError(fmt.Sprintf("cannot read %s", opener), err)
	}

	logger.WithFields(logrus.Fields{
		"source":  opener.String(),
		"records": len(records),
	}).Info("Loaded color reference table")

	s := New(records)
	s.source = opener.String()
	return s, nil
}

// Parse reads id,name,hex,r,g,b rows. Short rows and rows whose channels
// are not integers in 0..255 are skipped, which also drops a header line.
func Parse(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var records []Record
	line := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				logger.WithError(err).WithField("line", line).Debug("Skipping malformed color row")
				continue
			}
			return nil, err
		}
		if len(row) < minFields {
			continue
		}

		rec, ok := parseRow(row)
		if !ok {
			logger.WithField("line", line).Debug("Skipping color row with invalid channels")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(row []string) (Record, bool) {
	var ch [3]uint8
	for i := 0; i < 3; i++ {
		v, err := strconv.Atoi(strings.TrimSpace(row[3+i]))
		if err != nil || v < 0 || v > 255 {
			return Record{}, false
		}
		ch[i] = uint8(v)
	}
	return Record{
		ID:   strings.TrimSpace(row[0]),
		Name: strings.TrimSpace(row[1]),
		Hex:  strings.TrimSpace(row[2]),
		R:    ch[0],
		G:    ch[1],
		B:    ch[2],
	}, true
}

type fileOpener struct {
	path string
}

func (f fileOpener) Open(_ context.Context) (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewDataUnavailableError(fmt.Sprintf("color reference %s not found", f.path), err)
		}
		return nil, err
	}
	return file, nil
}

func (f fileOpener) String() string {
	return f.path
}
