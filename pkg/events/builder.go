package events

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/synaptica-ai/indicators/pkg/common/errs"
	"github.com/synaptica-ai/indicators/pkg/common/logger"
	"github.com/synaptica-ai/indicators/pkg/common/models"
	"golang.org/x/sync/singleflight"
)

// Builder turns filters into per-patient event indexes. A Builder lives for one
// report generation; identical requests made during that time, including
// concurrent ones, share a single retrieval. Returned indexes are shared and
// must be treated as read-only.
type Builder struct {
	retriever Retriever
	group     singleflight.Group
	mu        sync.RWMutex
	cache     map[string]models.EventIndex
	queries   atomic.Int64
}

func NewBuilder(retriever Retriever) *Builder {
	return &Builder{
		retriever: retriever,
		cache:     make(map[string]models.EventIndex),
	}
}

// Build retrieves the events of filter for every cohort member. Voided events
// and events outside [notBefore, notAfter] are dropped; a zero bound is open.
func (b *Builder) Build(ctx context.Context, cohort models.Cohort, filter Filter, qualifier TimeQualifier, notBefore, notAfter time.Time) (models.EventIndex, error) {
	if cohort == nil {
		cohort = models.Cohort{}
	}
	return b.build(ctx, cohort, filter, qualifier, notBefore, notAfter)
}

// BuildAll is Build without a cohort: every patient with a matching event is
// indexed. It is how a report population is enumerated in the first place.
func (b *Builder) BuildAll(ctx context.Context, filter Filter, qualifier TimeQualifier, notBefore, notAfter time.Time) (models.EventIndex, error) {
	return b.build(ctx, nil, filter, qualifier, notBefore, notAfter)
}

// build treats a nil cohort as unrestricted.
func (b *Builder) build(ctx context.Context, cohort models.Cohort, filter Filter, qualifier TimeQualifier, notBefore, notAfter time.Time) (models.EventIndex, error) {
	if filter.Series == "" {
		return nil, errs.Invalid("events", "", "series filter has no series tag")
	}
	if qualifier == "" {
		qualifier = Any
	}
	if qualifier != Any && qualifier != First && qualifier != Last {
		return nil, errs.Invalid("events", filter.Series, "unknown time qualifier %q", qualifier)
	}
	if filter.Empty() || (cohort != nil && cohort.Len() == 0) {
		return models.EventIndex{}, nil
	}

	key := requestKey(cohort, filter, qualifier, notBefore, notAfter)
	b.mu.RLock()
	cached, ok := b.cache[key]
	b.mu.RUnlock()
	if ok {
		return cached, nil
	}

	value, err, _ := b.group.Do(key, func() (interface{}, error) {
		b.mu.RLock()
		cached, ok := b.cache[key]
		b.mu.RUnlock()
		if ok {
			return cached, nil
		}

		q := Query{
			Filter:      filter,
			Qualifier:   qualifier,
			NotBefore:   notBefore,
			NotAfter:    notAfter,
			AllPatients: cohort == nil,
		}
		if cohort != nil {
			q.Patients = cohort.Strings()
		}
		b.queries.Add(1)
		raw, err := b.retriever.Retrieve(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("retrieve series %s: %w", filter.Series, err)
		}
		index := normalize(raw, cohort, q)

		logger.Log.WithFields(map[string]interface{}{
			"series":    filter.Series,
			"qualifier": qualifier,
			"cohort":    len(q.Patients),
			"patients":  len(index),
		}).Debug("event index built")

		b.mu.Lock()
		b.cache[key] = index
		b.mu.Unlock()
		return index, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(models.EventIndex), nil
}

// Queries is the number of retrievals issued so far.
func (b *Builder) Queries() int {
	return int(b.queries.Load())
}

func normalize(raw models.EventIndex, cohort models.Cohort, q Query) models.EventIndex {
	allowed := make(map[string]bool, len(q.ValueCoded))
	for _, v := range q.ValueCoded {
		allowed[v] = true
	}

	index := make(models.EventIndex, len(raw))
	for pid, series := range raw {
		if cohort != nil && !cohort.Contains(pid) {
			continue
		}
		kept := make(models.EventSeries, 0, len(series))
		for _, ev := range series {
			if ev.Voided {
				continue
			}
			if !q.NotBefore.IsZero() && ev.Timestamp.Before(q.NotBefore) {
				continue
			}
			if !q.NotAfter.IsZero() && ev.Timestamp.After(q.NotAfter) {
				continue
			}
			if len(allowed) > 0 {
				coded, ok := ev.Payload.(models.CodedValue)
				if !ok || !allowed[coded.ConceptID] {
					continue
				}
			}
			if ev.Series == "" {
				ev.Series = q.Series
			}
			kept = append(kept, ev)
		}
		if len(kept) == 0 {
			continue
		}
		kept.SortByTimestamp()
		switch q.Qualifier {
		case First:
			kept = kept[:1]
		case Last:
			kept = kept[len(kept)-1:]
		}
		index[pid] = kept
	}
	return index
}

func requestKey(cohort models.Cohort, filter Filter, qualifier TimeQualifier, notBefore, notAfter time.Time) string {
	members := "all"
	if cohort != nil {
		h := fnv.New64a()
		for _, id := range cohort.Sorted() {
			h.Write([]byte(id))
			h.Write([]byte{0})
		}
		members = fmt.Sprintf("%x", h.Sum64())
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s", filter.Key(), qualifier, bound(notBefore), bound(notAfter), members)
}

func bound(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
