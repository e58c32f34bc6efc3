package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"prism-board/domain"
)

const (
	DefaultActivityLimit = 50
	MaxActivityLimit     = 200
)

var retryStatusCodes = []int{408, 429, 500, 502, 503, 504}

type activityTable interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// ActivityLog records committed board events in an Azure table, one
// partition per board. Row keys count down so a partition scan returns the
// newest entries first.
type ActivityLog struct {
	table activityTable
}

func NewActivityLog(connStr, tableName string) (*ActivityLog, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &ActivityLog{table: svc.NewClient(tableName)}, nil
}

type activityEntity struct {
	aztables.Entity
	ActorID   string `json:"ActorId"`
	EventType string `json:"EventType"`
	ListID    string `json:"ListId,omitempty"`
	CardID    string `json:"CardId,omitempty"`
	At        int64  `json:"At"`
}

// Record appends ev to its board's partition.
func (a *ActivityLog) Record(ctx context.Context, ev domain.BoardEvent) error {
	ent := activityEntity{
		Entity: aztables.Entity{
			PartitionKey: ev.BoardID,
			RowKey:       activityRowKey(ev.At),
		},
		ActorID:   ev.ActorID,
		EventType: string(ev.Event.Type),
		ListID:    ev.Event.ListID,
		CardID:    ev.Event.CardID,
		At:        toMillis(ev.At),
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = a.table.AddEntity(ctx, payload, nil)
	return err
}

// List returns up to limit entries of boardID, newest first.
func (a *ActivityLog) List(ctx context.Context, boardID string, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}
	filter := "PartitionKey eq '" + strings.ReplaceAll(boardID, "'", "''") + "'"
	top := int32(limit)
	pager := a.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	entries := []domain.ActivityEntry{}
	for pager.More() && len(entries) < limit {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list activity: %w", err)
		}
		for _, raw := range resp.Entities {
			var ent activityEntity
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			entries = append(entries, domain.ActivityEntry{
				BoardID: ent.PartitionKey,
				ActorID: ent.ActorID,
				Event:   domain.Event{Type: domain.EventType(ent.EventType), ListID: ent.ListID, CardID: ent.CardID},
				At:      fromMillis(ent.At),
			})
			if len(entries) == limit {
				break
			}
		}
	}
	return entries, nil
}

// activityRowKey sorts newer instants first; the suffix keeps events of the
// same instant distinct.
func activityRowKey(at time.Time) string {
	return fmt.Sprintf("%019d-%s", math.MaxInt64-at.UnixNano(), uuid.NewString()[:8])
}

// IsAzureNotFound reports a 404 from an Azure data-plane call.
func IsAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}
