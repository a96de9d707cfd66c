package generate

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/varorder/pkg/experiment"
)

// ErrInvalidFeatureVector is returned for feature vector lines that fail validation.
var ErrInvalidFeatureVector = errors.New("invalid feature vector")

// maxLineBytes bounds one feature vector line; FlatZinc encodings can be large.
const maxLineBytes = 256 << 20

const featureVectorSchema = `{
  "type": "object",
  "required": ["problemId", "flatZinc"],
  "properties": {
    "problemId": {"type": "string", "minLength": 1},
    "flatZinc": {"type": "string", "minLength": 1},
    "method": {"type": "string"},
    "features": {}
  }
}`

// FeatureReader decodes feature vectors from JSON lines.
type FeatureReader struct {
	schema *gojsonschema.Schema
}

// NewFeatureReader compiles the feature vector schema.
func NewFeatureReader() (*FeatureReader, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(featureVectorSchema))
	if err != nil {
		return nil, fmt.Errorf("compile feature vector schema: %w", err)
	}

	return &FeatureReader{schema: schema}, nil
}

// Read validates and decodes every non-blank line of r.
func (fr *FeatureReader) Read(r io.Reader) ([]experiment.FeatureVector, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineBytes)

	var fvs []experiment.FeatureVector

	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		fv, err := fr.decode(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		fvs = append(fvs, fv)
	}

	scanErr := sc.Err()
	if scanErr != nil {
		return nil, fmt.Errorf("read feature vectors: %w", scanErr)
	}

	return fvs, nil
}

func (fr *FeatureReader) decode(text string) (experiment.FeatureVector, error) {
	res, err := fr.schema.Validate(gojsonschema.NewStringLoader(text))
	if err != nil {
		return experiment.FeatureVector{}, fmt.Errorf("%w: %w", ErrInvalidFeatureVector, err)
	}

	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}

		return experiment.FeatureVector{}, fmt.Errorf("%w: %s", ErrInvalidFeatureVector, strings.Join(msgs, "; "))
	}

	var fv experiment.FeatureVector

	err = json.Unmarshal([]byte(text), &fv)
	if err != nil {
		return experiment.FeatureVector{}, fmt.Errorf("%w: %w", ErrInvalidFeatureVector, err)
	}

	return fv, nil
}
