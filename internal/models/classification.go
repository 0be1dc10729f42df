package models

import "fmt"

// ExtractedParams carries entities the classifier pulled out of a user turn.
type ExtractedParams struct {
	LoggerID    string   `json:"loggerId,omitempty"`
	LoggerIDs   []string `json:"loggerIds,omitempty"`
	NamePattern string   `json:"namePattern,omitempty"`
	Metric      string   `json:"metric,omitempty"`
	Date        string   `json:"date,omitempty"`
	StartDate   string   `json:"startDate,omitempty"`
	EndDate     string   `json:"endDate,omitempty"`
	AllDevices  bool     `json:"allDevices,omitempty"`
}

// Classification is the parsed, validated output of one classifier call.
// Produced once per user turn that needs classification, consumed immediately
// to derive flow-context updates, never persisted.
type Classification struct {
	Flow                Workflow        `json:"flow"`
	Confidence          float64         `json:"confidence"`
	IsSelectionResponse bool            `json:"isSelectionResponse,omitempty"`
	SelectedValue       string          `json:"selectedValue,omitempty"`
	ExtractedParams     ExtractedParams `json:"extractedParams,omitempty"`
}

// Validate checks the classification against the schema the router requires.
func (c *Classification) Validate() error {
	if c.Flow == "" {
		return fmt.Errorf("classification missing flow")
	}
	if !c.Flow.Valid() {
		return fmt.Errorf("unknown flow %q", c.Flow)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", c.Confidence)
	}
	return nil
}
