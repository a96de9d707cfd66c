package workload

import (
	"encoding/json"

	"github.com/Sumatoshi-tech/varorder/pkg/experiment"
)

type featureVectorRow struct {
	ProblemID string `gorm:"primaryKey;type:varchar(255)"`
	FlatZinc  string `gorm:"type:longtext;not null"`
	Method    string `gorm:"type:varchar(64)"`
	Features  string `gorm:"type:longtext"`
}

func (featureVectorRow) TableName() string { return "feature_vectors" }

type jobRow struct {
	ID          int64    `gorm:"primaryKey;autoIncrement:false"`
	ProblemID   string   `gorm:"type:varchar(255);not null;index"`
	PermIndex   string   `gorm:"type:text;not null"`
	Permutation []string `gorm:"type:longtext;serializer:json"`
}

func (jobRow) TableName() string { return "jobs" }

// completedRow mirrors the ids present in the output sink.
type completedRow struct {
	ID int64 `gorm:"primaryKey;autoIncrement:false"`
}

func (completedRow) TableName() string { return "completed_jobs" }

func toJobRow(j experiment.Job) jobRow {
	return jobRow{
		ID:          j.ID,
		ProblemID:   j.ProblemID,
		PermIndex:   j.PermIndex,
		Permutation: j.Permutation,
	}
}

func (r jobRow) job() experiment.Job {
	return experiment.Job{
		ProblemID:   r.ProblemID,
		ID:          r.ID,
		PermIndex:   r.PermIndex,
		Permutation: r.Permutation,
	}
}

func toFeatureVectorRow(fv experiment.FeatureVector) featureVectorRow {
	return featureVectorRow{
		ProblemID: fv.ProblemID,
		FlatZinc:  fv.FlatZinc,
		Method:    fv.Method,
		Features:  string(fv.Features),
	}
}

func (r featureVectorRow) featureVector() experiment.FeatureVector {
	var features json.RawMessage
	if r.Features != "" {
		features = json.RawMessage(r.Features)
	}

	return experiment.FeatureVector{
		ProblemID: r.ProblemID,
		FlatZinc:  r.FlatZinc,
		Method:    r.Method,
		Features:  features,
	}
}
