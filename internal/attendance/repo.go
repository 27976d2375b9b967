package attendance

import (
	"errors"
	"sort"

	"classledger/internal/docstore"
	"classledger/internal/layout"
)

// repo reads and writes one user's ledger documents inside a transaction.
type repo struct {
	tx  docstore.Tx
	uid string
}

func (r repo) subject(id string) (Subject, bool, error) {
	var s Subject
	err := r.tx.Get(layout.Subject(r.uid, id), &s)
	if errors.Is(err, docstore.ErrNotFound) {
		return Subject{}, false, nil
	}
	if err != nil {
		return Subject{}, false, err
	}
	s.ID = id
	return s, true, nil
}

func (r repo) record(subjectID, recordID string) (Record, bool, error) {
	var rec Record
	err := r.tx.Get(layout.Record(r.uid, subjectID, recordID), &rec)
	if errors.Is(err, docstore.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec.ID, rec.SubjectID = recordID, subjectID
	return rec, true, nil
}

func (r repo) records(subjectID string) ([]Record, error) {
	docs, err := r.tx.List(layout.Records(r.uid, subjectID))
	if err != nil {
		return nil, err
	}
	return decodeRecords(subjectID, docs)
}

func (r repo) putSubject(s Subject) error {
	return r.tx.Set(layout.Subject(r.uid, s.ID), s)
}

func (r repo) putRecord(rec Record) error {
	return r.tx.Set(layout.Record(r.uid, rec.SubjectID, rec.ID), rec)
}

func (r repo) deleteRecord(subjectID, recordID string) error {
	return r.tx.Delete(layout.Record(r.uid, subjectID, recordID))
}

func decodeRecords(subjectID string, docs []docstore.Document) ([]Record, error) {
	out := make([]Record, 0, len(docs))
	for _, doc := range docs {
		var rec Record
		if err := doc.Decode(&rec); err != nil {
			return nil, err
		}
		rec.ID, rec.SubjectID = doc.ID(), subjectID
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func decodeSubjects(docs []docstore.Document) ([]Subject, error) {
	out := make([]Subject, 0, len(docs))
	for _, doc := range docs {
		var s Subject
		if err := doc.Decode(&s); err != nil {
			return nil, err
		}
		s.ID = doc.ID()
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
