package store

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rcliao/slotmem/internal/model"
)

// absent is the stored value for a missing group id, source message id
// or expiry.
const absent int64 = -1

var errRecordVersion = errors.New("unsupported record version")

func optInt(p *int64) int64 {
	if p == nil {
		return absent
	}
	return *p
}

func fromOptInt(v int64) *int64 {
	if v < 0 {
		return nil
	}
	return &v
}

// Metadata keys of the chromem encoding.
const (
	mdScope         = "scope"
	mdOwner         = "owner_user_id"
	mdGroup         = "group_id"
	mdCategory      = "category"
	mdSlot          = "slot_key"
	mdImportance    = "importance"
	mdConfidence    = "confidence"
	mdCreatedAt     = "created_at"
	mdUpdatedAt     = "updated_at"
	mdExpiresAt     = "expires_at"
	mdStatus        = "status"
	mdSourceMsg     = "source_msg_id"
	mdRecordVersion = "record_version"
)

func toMetadata(r model.Record) map[string]string {
	return map[string]string{
		mdScope:         string(r.Scope),
		mdOwner:         r.OwnerUserID,
		mdGroup:         strconv.FormatInt(optInt(r.GroupID), 10),
		mdCategory:      string(r.Category),
		mdSlot:          r.SlotKey,
		mdImportance:    strconv.FormatFloat(r.Importance, 'f', -1, 64),
		mdConfidence:    strconv.FormatFloat(r.Confidence, 'f', -1, 64),
		mdCreatedAt:     strconv.FormatInt(r.CreatedAt, 10),
		mdUpdatedAt:     strconv.FormatInt(r.UpdatedAt, 10),
		mdExpiresAt:     strconv.FormatInt(optInt(r.ExpiresAt), 10),
		mdStatus:        string(r.Status),
		mdSourceMsg:     strconv.FormatInt(optInt(r.SourceMsgID), 10),
		mdRecordVersion: model.RecordVersion,
	}
}

func fromMetadata(id, content string, md map[string]string) (model.Record, error) {
	if v := md[mdRecordVersion]; v != model.RecordVersion {
		return model.Record{}, fmt.Errorf("%w %q", errRecordVersion, v)
	}
	r := model.Record{
		ID:          id,
		Content:     content,
		Scope:       model.ParseScope(md[mdScope]),
		OwnerUserID: md[mdOwner],
		Category:    model.ParseCategory(md[mdCategory]),
		SlotKey:     md[mdSlot],
		Status:      model.ParseStatus(md[mdStatus]),
	}
	var err error
	parseInt := func(key string) int64 {
		if err != nil {
			return 0
		}
		var v int64
		v, err = strconv.ParseInt(md[key], 10, 64)
		if err != nil {
			err = fmt.Errorf("field %s: %w", key, err)
		}
		return v
	}
	parseFloat := func(key string) float64 {
		if err != nil {
			return 0
		}
		var v float64
		v, err = strconv.ParseFloat(md[key], 64)
		if err != nil {
			err = fmt.Errorf("field %s: %w", key, err)
		}
		return v
	}
	r.GroupID = fromOptInt(parseInt(mdGroup))
	r.Importance = parseFloat(mdImportance)
	r.Confidence = parseFloat(mdConfidence)
	r.CreatedAt = parseInt(mdCreatedAt)
	r.UpdatedAt = parseInt(mdUpdatedAt)
	r.ExpiresAt = fromOptInt(parseInt(mdExpiresAt))
	r.SourceMsgID = fromOptInt(parseInt(mdSourceMsg))
	if err != nil {
		return model.Record{}, err
	}
	return r, nil
}

// whereOf turns a filter into a chromem equality filter.
func whereOf(f Filter) map[string]string {
	where := map[string]string{mdRecordVersion: model.RecordVersion}
	if f.Status != "" {
		where[mdStatus] = string(f.Status)
	}
	if f.Scope != "" {
		where[mdScope] = string(f.Scope)
	}
	if f.SlotKey != "" {
		where[mdSlot] = f.SlotKey
	}
	return where
}
