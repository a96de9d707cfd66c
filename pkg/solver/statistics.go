package solver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/varorder/pkg/experiment"
)

// statisticsSchema describes the solver's final statistics line. Every other
// stream message (solutions, compile statistics, status) fails validation.
const statisticsSchema = `{
  "type": "object",
  "required": ["type", "statistics"],
  "properties": {
    "type": {"type": "string", "enum": ["statistics"]},
    "statistics": {
      "type": "object",
      "required": [
        "initTime", "solveTime", "solutions", "variables", "propagators",
        "propagations", "nodes", "failures", "restarts", "peakDepth"
      ],
      "properties": {
        "initTime": {"type": "number"},
        "solveTime": {"type": "number"},
        "solutions": {"type": "integer"},
        "variables": {"type": "integer"},
        "propagators": {"type": "integer"},
        "propagations": {"type": "integer"},
        "nodes": {"type": "integer"},
        "failures": {"type": "integer"},
        "restarts": {"type": "integer"},
        "peakDepth": {"type": "integer"},
        "nSolutions": {"type": "integer"}
      },
      "additionalProperties": false
    }
  }
}`

type statisticsMessage struct {
	Type       string                `json:"type"`
	Statistics experiment.Statistics `json:"statistics"`
}

// StatisticsParser recognizes statistics lines in solver output.
// The schema is compiled once; a parser is safe for concurrent use.
type StatisticsParser struct {
	schema *gojsonschema.Schema
}

// NewStatisticsParser compiles the statistics schema.
func NewStatisticsParser() (*StatisticsParser, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(statisticsSchema))
	if err != nil {
		return nil, fmt.Errorf("compile statistics schema: %w", err)
	}

	return &StatisticsParser{schema: schema}, nil
}

// Parse returns the statistics carried by line. Anything that is not a
// well-formed statistics message yields false.
func (p *StatisticsParser) Parse(line string) (experiment.Statistics, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return experiment.Statistics{}, false
	}

	result, err := p.schema.Validate(gojsonschema.NewStringLoader(line))
	if err != nil || !result.Valid() {
		return experiment.Statistics{}, false
	}

	var msg statisticsMessage

	unmarshalErr := json.Unmarshal([]byte(line), &msg)
	if unmarshalErr != nil {
		return experiment.Statistics{}, false
	}

	return msg.Statistics, true
}
