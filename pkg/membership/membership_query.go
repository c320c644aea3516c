package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-clusterstore/pkg/docstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
)

func (d *Directory) scopeQuery() docstore.Query {
	return docstore.Query{
		Collection: MembershipCollection,
		IDPrefix:   membershipKeyPrefix,
		Equals: map[string]string{
			"serviceId":    d.serviceID,
			"deploymentId": d.deploymentID,
		},
	}
}

// versionDocument is the document stored at TableVersionKey. It holds one
// version per (service, deployment) scope, keyed by scopeKey, so scopes
// sharing a database advance independently.
type versionDocument struct {
	Scopes map[string]TableVersion `json:"scopes"`
}

func scopeKey(serviceID, deploymentID string) string {
	return serviceID + "/" + deploymentID
}

// loadVersion loads the version document and returns this scope's entry.
// found is false when the scope has no stored version yet. The returned
// document is never nil on success, so it can be updated and stored back.
func (d *Directory) loadVersion(ctx context.Context, sess docstore.Session) (TableVersion, bool, *versionDocument, error) {
	loaded, exists, err := docstore.LoadAs[versionDocument](ctx, sess, TableVersionKey)
	if err != nil {
		return TableVersion{}, false, nil, err
	}
	doc := &versionDocument{}
	if exists {
		doc = loaded.Value
	}
	if doc.Scopes == nil {
		doc.Scopes = make(map[string]TableVersion)
	}
	v, found := doc.Scopes[scopeKey(d.serviceID, d.deploymentID)]
	return v, found, doc, nil
}

// storeVersion sets this scope's entry to v and stages the document. The
// write is conditioned on the document as loaded in sess, or on its
// absence.
func (d *Directory) storeVersion(sess docstore.Session, doc *versionDocument, v TableVersion) error {
	doc.Scopes[scopeKey(d.serviceID, d.deploymentID)] = v
	return sess.Store(TableVersionKey, TableVersionCollection, doc)
}

// currentVersion is this scope's version, with an unpersisted version 0
// standing in for a missing one.
func (d *Directory) currentVersion(ctx context.Context, sess docstore.Session) (TableVersion, error) {
	v, found, _, err := d.loadVersion(ctx, sess)
	if err != nil {
		return TableVersion{}, err
	}
	if !found {
		return NewTableVersion(0), nil
	}
	return v, nil
}

// ReadRow returns addr's row, if any, and the current table version
func (d *Directory) ReadRow(ctx context.Context, addr SiloAddress) (data *TableData, err error) {
	start := time.Now()
	defer func() { d.record("read_row", start, err) }()

	sess, err := d.docs.OpenSession(ctx)
	if err != nil {
		return nil, d.fail("read row", err, logging.SiloAddress(addr.String()))
	}
	defer sess.Close()

	row, found, err := docstore.LoadAs[membershipDocument](ctx, sess, d.Key(addr))
	if err != nil {
		return nil, d.fail("read row", err, logging.SiloAddress(addr.String()))
	}
	version, err := d.currentVersion(ctx, sess)
	if err != nil {
		return nil, d.fail("read row", err, logging.SiloAddress(addr.String()))
	}

	data = &TableData{Version: version}
	if found {
		data.Entries = []EntryWithETag{{Entry: row.Value.MembershipEntry, ETag: row.ChangeToken}}
	}
	return data, nil
}

// ReadAll returns every row in this directory's scope and the current
// table version. If no version is stored yet the returned version 0 is
// not persisted.
func (d *Directory) ReadAll(ctx context.Context) (data *TableData, err error) {
	start := time.Now()
	defer func() { d.record("read_all", start, err) }()

	sess, err := d.docs.OpenSession(ctx)
	if err != nil {
		return nil, d.fail("read all", err)
	}
	defer sess.Close()

	rows, err := docstore.QueryAs[membershipDocument](ctx, sess, d.scopeQuery(), nil)
	if err != nil {
		return nil, d.fail("read all", err)
	}
	version, err := d.currentVersion(ctx, sess)
	if err != nil {
		return nil, d.fail("read all", err)
	}

	data = &TableData{Version: version, Entries: make([]EntryWithETag, 0, len(rows))}
	for _, row := range rows {
		data.Entries = append(data.Entries, EntryWithETag{Entry: row.Value.MembershipEntry, ETag: row.ChangeToken})
	}

	if d.metrics != nil {
		d.metrics.SetTableVersion(version.Version)
		d.metrics.SetMembershipRows(data.CountByStatus())
	}
	return data, nil
}

// fail logs an unexpected error with its context and wraps it
func (d *Directory) fail(op string, err error, fields ...logging.Field) error {
	fields = append(fields, logging.Operation(op), logging.Error(err))
	d.logger.Error("membership operation failed", fields...)
	return fmt.Errorf("membership: %s: %w", op, err)
}
