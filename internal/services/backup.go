package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"frota/internal/core"
	"frota/internal/log"
	"frota/internal/store"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const BackupVersion = 1

// Backup is a full copy of one account. Records keep their ids so a
// restore reproduces the references between them.
type Backup struct {
	Version    int                         `json:"version" yaml:"version"`
	ExportedAt time.Time                   `json:"exportedAt" yaml:"exportedAt"`
	Records    map[string][]map[string]any `json:"records" yaml:"records"`
}

// UnmarshalJSON keeps record numbers as json.Number.
func (b *Backup) UnmarshalJSON(data []byte) error {
	type plain Backup
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode((*plain)(b))
}

// MarshalYAML writes json.Number values as plain YAML numbers with their
// exact digits instead of quoted strings.
func (b Backup) MarshalYAML() (any, error) {
	type plain Backup
	out := plain(b)
	out.Records = make(map[string][]map[string]any, len(b.Records))
	for name, rows := range b.Records {
		conv := make([]map[string]any, len(rows))
		for i, row := range rows {
			conv[i] = yamlValue(row).(map[string]any)
		}
		out.Records[name] = conv
	}
	return out, nil
}

func yamlValue(v any) any {
	switch v := v.(type) {
	case json.Number:
		tag := "!!float"
		if _, err := v.Int64(); err == nil {
			tag = "!!int"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: v.String()}
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[k] = yamlValue(e)
		}
		return m
	case []any:
		s := make([]any, len(v))
		for i, e := range v {
			s[i] = yamlValue(e)
		}
		return s
	}
	return v
}

func (s *FleetService) ExportBackup(ctx context.Context, account string) (Backup, error) {
	b := Backup{Version: BackupVersion, ExportedAt: s.now().UTC(), Records: map[string][]map[string]any{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range store.Collections {
		g.Go(func() error {
			docs, err := s.store.List(gctx, account, c)
			if err != nil {
				return err
			}
			rows := make([]map[string]any, 0, len(docs))
			for _, d := range docs {
				m, err := store.Decode(d.Data)
				if err != nil {
					return core.NewStoreError("export", string(c), err)
				}
				m[store.KeyID] = d.ID
				rows = append(rows, m)
			}
			mu.Lock()
			b.Records[string(c)] = rows
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Backup{}, err
	}
	s.logger.InfoContext(ctx, "Backup exported", log.FieldAccountID, account, log.FieldOperation, log.OpExport)
	return b, nil
}

// ImportBackup writes every record of b under its own id, replacing
// existing documents with the same id. Records without id get a new one.
func (s *FleetService) ImportBackup(ctx context.Context, account string, b Backup) (int, error) {
	if account == "" {
		return 0, &core.ValidationError{Field: store.KeyAccount, Reason: "is required"}
	}
	if b.Version > BackupVersion {
		return 0, &core.ValidationError{Field: "version", Reason: fmt.Sprintf("unsupported backup version %d", b.Version)}
	}
	for name := range b.Records {
		if !store.Collection(name).Valid() {
			return 0, &core.ValidationError{Field: "records", Reason: "unknown collection " + name}
		}
	}

	n := 0
	for _, c := range store.Collections {
		for _, rec := range b.Records[string(c)] {
			id, _ := rec[store.KeyID].(string)
			data, err := json.Marshal(rec)
			if err != nil {
				return n, &core.ValidationError{Field: "records", Reason: err.Error()}
			}
			if id == "" {
				_, err = s.store.Create(ctx, account, c, data)
			} else {
				err = s.store.Put(ctx, account, c, id, data)
			}
			if err != nil {
				return n, err
			}
			n++
		}
	}
	s.logger.InfoContext(ctx, "Backup imported",
		log.FieldAccountID, account,
		log.FieldOperation, log.OpImport,
		"records", n)
	return n, nil
}

// ClearAccount deletes every record of the account.
func (s *FleetService) ClearAccount(ctx context.Context, account string) (int, error) {
	if account == "" {
		return 0, &core.ValidationError{Field: store.KeyAccount, Reason: "is required"}
	}
	n := 0
	for _, c := range store.Collections {
		docs, err := s.store.List(ctx, account, c)
		if err != nil {
			return n, err
		}
		for _, d := range docs {
			if err := s.store.Delete(ctx, account, c, d.ID); err != nil {
				return n, err
			}
			n++
		}
	}
	s.logger.WarnContext(ctx, "Account cleared", log.FieldAccountID, account, "records", n)
	return n, nil
}
