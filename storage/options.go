package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RecordOptions selects which fields Get populates.
type RecordOptions struct {
	RetrieveType  bool
	RetrieveValue bool
	RetrieveTags  bool
}

// DefaultRecordOptions returns the options used when none are supplied: value only.
func DefaultRecordOptions() RecordOptions {
	return RecordOptions{RetrieveValue: true}
}

// FullRecordOptions returns options retrieving every field.
func FullRecordOptions() RecordOptions {
	return RecordOptions{RetrieveType: true, RetrieveValue: true, RetrieveTags: true}
}

// SearchOptions selects what Search computes and which fields each record carries.
type SearchOptions struct {
	RetrieveRecords    bool
	RetrieveTotalCount bool
	RetrieveType       bool
	RetrieveValue      bool
	RetrieveTags       bool
}

// DefaultSearchOptions returns the options used when none are supplied: records
// with their values and tags, no type or total count.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{RetrieveRecords: true, RetrieveValue: true, RetrieveTags: true}
}

// RecordOptions returns the per-record subset of o.
func (o SearchOptions) RecordOptions() RecordOptions {
	return RecordOptions{
		RetrieveType:  o.RetrieveType,
		RetrieveValue: o.RetrieveValue,
		RetrieveTags:  o.RetrieveTags,
	}
}

type optionsJSON struct {
	RetrieveRecords    *bool `json:"retrieveRecords,omitempty"`
	RetrieveTotalCount *bool `json:"retrieveTotalCount,omitempty"`
	RetrieveType       *bool `json:"retrieveType,omitempty"`
	RetrieveValue      *bool `json:"retrieveValue,omitempty"`
	RetrieveTags       *bool `json:"retrieveTags,omitempty"`
}

func decodeOptions(data []byte) (optionsJSON, error) {
	var o optionsJSON
	if len(strings.TrimSpace(string(data))) == 0 {
		return o, nil
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("decoding options: %v: %w", err, ErrInvalidStructure)
	}
	return o, nil
}

func set(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// ParseRecordOptions parses record options JSON, applying defaults for absent keys.
func ParseRecordOptions(data []byte) (RecordOptions, error) {
	o, err := decodeOptions(data)
	if err != nil {
		return RecordOptions{}, err
	}
	opts := DefaultRecordOptions()
	set(&opts.RetrieveType, o.RetrieveType)
	set(&opts.RetrieveValue, o.RetrieveValue)
	set(&opts.RetrieveTags, o.RetrieveTags)
	return opts, nil
}

// ParseSearchOptions parses search options JSON, applying defaults for absent keys.
func ParseSearchOptions(data []byte) (SearchOptions, error) {
	o, err := decodeOptions(data)
	if err != nil {
		return SearchOptions{}, err
	}
	opts := DefaultSearchOptions()
	set(&opts.RetrieveRecords, o.RetrieveRecords)
	set(&opts.RetrieveTotalCount, o.RetrieveTotalCount)
	set(&opts.RetrieveType, o.RetrieveType)
	set(&opts.RetrieveValue, o.RetrieveValue)
	set(&opts.RetrieveTags, o.RetrieveTags)
	return opts, nil
}

// MarshalJSON emits every key.
func (o RecordOptions) MarshalJSON() ([]byte, error) {
	return json.Marshal(optionsJSON{
		RetrieveType:  &o.RetrieveType,
		RetrieveValue: &o.RetrieveValue,
		RetrieveTags:  &o.RetrieveTags,
	})
}

// MarshalJSON emits every key.
func (o SearchOptions) MarshalJSON() ([]byte, error) {
	return json.Marshal(optionsJSON{
		RetrieveRecords:    &o.RetrieveRecords,
		RetrieveTotalCount: &o.RetrieveTotalCount,
		RetrieveType:       &o.RetrieveType,
		RetrieveValue:      &o.RetrieveValue,
		RetrieveTags:       &o.RetrieveTags,
	})
}
