package membership

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-clusterstore/pkg/docstore"
	"github.com/dd0wney/cluso-clusterstore/pkg/logging"
)

// versionMatches reports whether the caller's expected version is the one
// stored. With nothing stored only version 0 matches.
func versionMatches(stored TableVersion, found bool, expected TableVersion) bool {
	if !found {
		return expected.Version == 0
	}
	return stored.Version == expected.Version
}

// InsertRow adds entry's row and advances the table version to
// expected.Next() in one commit. It returns false, writing nothing, when
// the row already exists or the table version has moved past expected.
func (d *Directory) InsertRow(ctx context.Context, entry MembershipEntry, expected TableVersion) (ok bool, err error) {
	start := time.Now()
	addr := logging.SiloAddress(entry.SiloAddress.String())
	defer func() {
		if err == nil && !ok {
			d.recordRejected("insert_row", start)
			return
		}
		d.record("insert_row", start, err)
	}()

	sess, err := d.docs.OpenSession(ctx)
	if err != nil {
		return false, d.fail("insert row", err, addr)
	}
	defer sess.Close()

	key := d.Key(entry.SiloAddress)
	_, exists, err := sess.Load(ctx, key)
	if err != nil {
		return false, d.fail("insert row", err, addr)
	}
	if exists {
		d.logger.Debug("row already exists", addr)
		return false, nil
	}

	stored, found, versions, err := d.loadVersion(ctx, sess)
	if err != nil {
		return false, d.fail("insert row", err, addr)
	}
	if !versionMatches(stored, found, expected) {
		d.logger.Debug("stale table version", addr,
			logging.Int64("expected", expected.Version), logging.TableVersion(stored.Version))
		return false, nil
	}

	next := expected.Next()
	if err := sess.Store(key, MembershipCollection, newMembershipDocument(entry, d.serviceID, d.deploymentID)); err != nil {
		return false, d.fail("insert row", err, addr)
	}
	if err := d.storeVersion(sess, versions, next); err != nil {
		return false, d.fail("insert row", err, addr)
	}

	err = sess.Commit(ctx)
	if docstore.IsConflict(err) {
		// The row was inserted or the version document changed since we read them.
		d.logger.Debug("insert lost a race", addr, logging.Error(err))
		return false, nil
	}
	if err != nil {
		return false, d.fail("insert row", err, addr)
	}

	d.logger.Info("row inserted", addr, logging.TableVersion(next.Version))
	return true, nil
}

// UpdateRow overwrites the status, suspicions, start time and liveness of
// an existing row and advances the table version to expected.Next(), in
// one commit. It returns false when the row does not exist or the version
// has moved past expected, and a *ConflictError when etag is not the
// row's current change token.
func (d *Directory) UpdateRow(ctx context.Context, entry MembershipEntry, etag string, expected TableVersion) (ok bool, err error) {
	start := time.Now()
	addr := logging.SiloAddress(entry.SiloAddress.String())
	defer func() {
		if err == nil && !ok {
			d.recordRejected("update_row", start)
			return
		}
		d.record("update_row", start, err)
	}()

	sess, err := d.docs.OpenSession(ctx)
	if err != nil {
		return false, d.fail("update row", err, addr)
	}
	defer sess.Close()

	key := d.Key(entry.SiloAddress)
	row, found, err := docstore.LoadAs[membershipDocument](ctx, sess, key)
	if err != nil {
		return false, d.fail("update row", err, addr)
	}
	if !found {
		d.logger.Debug("row not found for update", addr)
		return false, nil
	}
	if row.ChangeToken != etag {
		d.logger.Warn("row modified concurrently", addr, logging.ChangeToken(etag))
		return false, &ConflictError{Address: entry.SiloAddress, Expected: etag, Actual: row.ChangeToken}
	}

	stored, vfound, versions, err := d.loadVersion(ctx, sess)
	if err != nil {
		return false, d.fail("update row", err, addr)
	}
	if !versionMatches(stored, vfound, expected) {
		d.logger.Debug("stale table version", addr,
			logging.Int64("expected", expected.Version), logging.TableVersion(stored.Version))
		return false, nil
	}

	doc := row.Value
	doc.Status = entry.Status
	doc.SuspectTimes = entry.SuspectTimes
	doc.StartTime = entry.StartTime
	doc.IAmAliveTime = entry.IAmAliveTime

	next := expected.Next()
	if err := sess.Store(key, MembershipCollection, doc, docstore.WithChangeToken(etag)); err != nil {
		return false, d.fail("update row", err, addr)
	}
	if err := d.storeVersion(sess, versions, next); err != nil {
		return false, d.fail("update row", err, addr)
	}

	err = sess.Commit(ctx)
	if ce, isConflict := docstore.AsConflict(err); isConflict {
		if ce.DocumentID == TableVersionKey {
			d.logger.Debug("update lost a version race", addr)
			return false, nil
		}
		d.logger.Warn("row modified concurrently", addr, logging.ChangeToken(etag))
		return false, &ConflictError{Address: entry.SiloAddress, Expected: etag, Actual: ce.Actual, Cause: err}
	}
	if err != nil {
		return false, d.fail("update row", err, addr)
	}

	d.logger.Info("row updated", addr,
		logging.String("status", entry.Status.String()), logging.TableVersion(next.Version))
	return true, nil
}

// UpdateIAmAlive refreshes only the liveness timestamp of entry's row. A
// missing row is logged and ignored. A concurrent write to the row is
// returned as a *ConflictError; the call is not retried.
func (d *Directory) UpdateIAmAlive(ctx context.Context, entry MembershipEntry) (err error) {
	start := time.Now()
	addr := logging.SiloAddress(entry.SiloAddress.String())
	defer func() { d.record("update_i_am_alive", start, err) }()

	sess, err := d.docs.OpenSession(ctx)
	if err != nil {
		return d.fail("update i-am-alive", err, addr)
	}
	defer sess.Close()

	key := d.Key(entry.SiloAddress)
	row, found, err := docstore.LoadAs[membershipDocument](ctx, sess, key)
	if err != nil {
		return d.fail("update i-am-alive", err, addr)
	}
	if !found {
		d.logger.Warn("i-am-alive for unknown silo ignored", addr)
		return nil
	}

	doc := row.Value
	doc.IAmAliveTime = entry.IAmAliveTime
	if err := sess.Store(key, MembershipCollection, doc); err != nil {
		return d.fail("update i-am-alive", err, addr)
	}

	err = sess.Commit(ctx)
	if ce, isConflict := docstore.AsConflict(err); isConflict {
		d.logger.Warn("i-am-alive conflicted with a concurrent write", addr, logging.Error(err))
		return &ConflictError{Address: entry.SiloAddress, Expected: row.ChangeToken, Actual: ce.Actual, Cause: err}
	}
	if err != nil {
		return d.fail("update i-am-alive", err, addr)
	}
	return nil
}

// CleanupDefunctSiloEntries deletes every row in scope whose IAmAliveTime
// is before cutoff, in one commit. When anything is removed the table
// version is advanced so cached views notice.
func (d *Directory) CleanupDefunctSiloEntries(ctx context.Context, cutoff time.Time) (err error) {
	start := time.Now()
	defer func() { d.record("cleanup", start, err) }()

	sess, err := d.docs.OpenSession(ctx)
	if err != nil {
		return d.fail("cleanup", err, logging.Cutoff(cutoff))
	}
	defer sess.Close()

	defunct, err := docstore.QueryAs(ctx, sess, d.scopeQuery(), func(doc *membershipDocument) bool {
		return doc.IAmAliveTime.Before(cutoff)
	})
	if err != nil {
		return d.fail("cleanup", err, logging.Cutoff(cutoff))
	}
	if len(defunct) == 0 {
		return nil
	}

	for _, row := range defunct {
		if err := sess.Delete(row.ID); err != nil {
			return d.fail("cleanup", err, logging.Cutoff(cutoff))
		}
	}

	version, found, versions, err := d.loadVersion(ctx, sess)
	if err != nil {
		return d.fail("cleanup", err, logging.Cutoff(cutoff))
	}
	next := NewTableVersion(1)
	if found {
		next = version.Next()
	}
	if err := d.storeVersion(sess, versions, next); err != nil {
		return d.fail("cleanup", err, logging.Cutoff(cutoff))
	}

	if err := sess.Commit(ctx); err != nil {
		if docstore.IsConflict(err) {
			d.logger.Warn("cleanup conflicted with a concurrent write", logging.Cutoff(cutoff), logging.Error(err))
			return err
		}
		return d.fail("cleanup", err, logging.Cutoff(cutoff))
	}

	d.logger.Info("defunct silos removed",
		logging.Cutoff(cutoff), logging.Count(len(defunct)), logging.TableVersion(next.Version))
	if d.metrics != nil {
		d.metrics.RecordDefunctRemoved(len(defunct))
	}
	return nil
}

// DeleteMembershipTableEntries removes every row of serviceID in this
// directory's deployment. It is a teardown operation and does not touch
// the table version.
func (d *Directory) DeleteMembershipTableEntries(ctx context.Context, serviceID string) (err error) {
	start := time.Now()
	defer func() { d.record("delete_entries", start, err) }()

	sess, err := d.docs.OpenSession(ctx)
	if err != nil {
		return d.fail("delete entries", err, logging.ServiceID(serviceID))
	}
	defer sess.Close()

	q := d.scopeQuery()
	q.Equals["serviceId"] = serviceID
	rows, err := sess.Query(ctx, q)
	if err != nil {
		return d.fail("delete entries", err, logging.ServiceID(serviceID))
	}
	if len(rows) == 0 {
		return nil
	}

	for _, row := range rows {
		if err := sess.Delete(row.ID, docstore.WithoutConcurrencyCheck()); err != nil {
			return d.fail("delete entries", err, logging.ServiceID(serviceID))
		}
	}
	if err := sess.Commit(ctx); err != nil {
		return d.fail("delete entries", err, logging.ServiceID(serviceID))
	}

	d.logger.Info("membership entries deleted", logging.ServiceID(serviceID), logging.Count(len(rows)))
	return nil
}
