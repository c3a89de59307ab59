package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"convnode/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeRecording(r model.Recording) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRecording(data []byte) (model.Recording, error) {
	var recording model.Recording
	if err := json.Unmarshal(data, &recording); err != nil {
		return model.Recording{}, err
	}
	if err := checkVersion(recording.VersionedRecord); err != nil {
		return model.Recording{}, err
	}
	return recording, nil
}

func EncodeStatistics(s model.StatisticsRecord) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeStatistics(data []byte) (model.StatisticsRecord, error) {
	var record model.StatisticsRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.StatisticsRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.StatisticsRecord{}, err
	}
	return record, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}
