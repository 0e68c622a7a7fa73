package memory

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// MergeReport summarizes a merge pass.
type MergeReport struct {
	Entities int      `json:"entities"`
	Merged   int      `json:"merged"`
	Created  []string `json:"created,omitempty"`
	Removed  []string `json:"removed,omitempty"`
}

func (r *MergeReport) add(o MergeReport) {
	r.Entities += o.Entities
	r.Merged += o.Merged
	r.Created = append(r.Created, o.Created...)
	r.Removed = append(r.Removed, o.Removed...)
}

// MergeRelatedMemories collapses near-duplicate long-term memories about an
// entity. Every pair whose distance is below 1 - threshold is replaced by a
// single record containing both texts, tagged merged=true, with the entity
// preserved. Each record takes part in at most one merge per pass.
//
// The comparison is pairwise, so this is meant for periodic maintenance.
func (m *Manager) MergeRelatedMemories(ctx context.Context, entity string, threshold float64) (MergeReport, error) {
	report := MergeReport{Entities: 1}
	if entity == "" {
		return report, ErrInvalidInput
	}
	if threshold <= 0 || threshold > 1 {
		threshold = m.config.MergeThreshold
	}
	maxDistance := 1 - threshold

	where := map[string]string{KeyEntity: entity, KeyMemoryType: string(LongTerm)}
	docs, err := m.global.Get(ctx, nil, where)
	if err != nil {
		return report, &StorageError{Op: "scan", Collection: m.global.Name(), Err: err}
	}
	if len(docs) < 2 {
		return report, nil
	}
	sort.Slice(docs, func(i, j int) bool {
		ti, tj := Metadata(docs[i].Metadata).Timestamp(), Metadata(docs[j].Metadata).Timestamp()
		if ti != tj {
			return ti < tj
		}
		return docs[i].ID < docs[j].ID
	})

	consumed := make(map[string]bool, len(docs))
	for i := range docs {
		if consumed[docs[i].ID] {
			continue
		}
		hits, err := m.global.Query(ctx, docs[i].Text, len(docs), where)
		if err != nil {
			return report, &StorageError{Op: "query", Collection: m.global.Name(), Err: err}
		}
		distances := make(map[string]float64, len(hits))
		for _, h := range hits {
			distances[h.ID] = h.Distance
		}

		for j := i + 1; j < len(docs); j++ {
			if consumed[docs[j].ID] {
				continue
			}
			d, ok := distances[docs[j].ID]
			if !ok || d >= maxDistance {
				continue
			}

			id, err := m.mergePair(ctx, entity, docs[i], docs[j])
			if err != nil {
				return report, err
			}
			consumed[docs[i].ID] = true
			consumed[docs[j].ID] = true
			report.Merged++
			report.Created = append(report.Created, id)
			report.Removed = append(report.Removed, docs[i].ID, docs[j].ID)
			break
		}
	}

	if report.Merged > 0 {
		m.logger.Info("merged long-term memories", zap.String("entity", entity), zap.Int("merged", report.Merged))
	}
	return report, nil
}

// mergePair inserts the combined record and deletes both originals.
func (m *Manager) mergePair(ctx context.Context, entity string, a, b Document) (string, error) {
	ma, mb := Metadata(a.Metadata), Metadata(b.Metadata)
	md := Metadata{
		KeyEntity:     entity,
		KeyMerged:     "true",
		KeyMergedFrom: a.ID + "," + b.ID,
		KeyAuthor:     AuthorSystem,
	}
	if resolvePriority(ma, m.allow) == PriorityHigh || resolvePriority(mb, m.allow) == PriorityHigh {
		md[KeyPriority] = PriorityHigh
	}

	text := strings.TrimSpace(a.Text) + "\n" + strings.TrimSpace(b.Text)
	id, err := m.add(ctx, m.global, text, md, LongTerm, "")
	if err != nil {
		return "", err
	}
	if err := m.global.Delete(ctx, []string{a.ID, b.ID}); err != nil {
		return id, m.writeFailed(ctx, "merge_delete", &StorageError{Op: "delete", Collection: m.global.Name(), Err: err}, "")
	}

	m.audit.Log(ctx, EventMemoryMerged, map[string]any{
		"id":          id,
		"entity":      entity,
		"merged_from": []string{a.ID, b.ID},
	})
	return id, nil
}

// MergeAllEntities runs MergeRelatedMemories for every distinct entity in
// the global collection.
func (m *Manager) MergeAllEntities(ctx context.Context, threshold float64) (MergeReport, error) {
	var report MergeReport
	docs, err := m.global.Get(ctx, nil, map[string]string{KeyMemoryType: string(LongTerm)})
	if err != nil {
		return report, &StorageError{Op: "scan", Collection: m.global.Name(), Err: err}
	}

	counts := make(map[string]int)
	for _, doc := range docs {
		if e := Metadata(doc.Metadata).Entity(); e != "" {
			counts[e]++
		}
	}
	entities := make([]string, 0, len(counts))
	for e, n := range counts {
		if n > 1 {
			entities = append(entities, e)
		}
	}
	sort.Strings(entities)

	var errs []error
	for _, e := range entities {
		r, err := m.MergeRelatedMemories(ctx, e, threshold)
		report.add(r)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}
