package extract

import (
	"context"
	"errors"
	"time"

	"github.com/keithlinneman/ziprehome/internal/audit"
	"github.com/keithlinneman/ziprehome/internal/docstore"
	"github.com/keithlinneman/ziprehome/internal/pathutil"
)

const auditTimeout = 10 * time.Second

// leaf stores one file entry on the upload pool, records the outcome in the
// audit log, and always releases the entry's temp file.
func (e *Engine) leaf(ctx context.Context, c *call, ent entry, asm *assembler) error {
	defer ent.temp.Release()

	name := pathutil.BaseName(ent.name)
	rec := audit.NewEntry(c.req.ClientID, c.req.ParentID, name, ent.path, audit.TypeFile)

	var id string
	start := time.Now()
	err := e.opts.UploadPool.Do(ctx, func(ctx context.Context) error {
		body, err := ent.temp.Open()
		if err != nil {
			return entryIO(ent.path, err)
		}
		defer body.Close()

		// the store gets the member name as written in its archive,
		// directories included; the tree and audit keep the base name
		id, err = e.opts.Store.Put(ctx, docstore.Object{
			Name:     ent.name,
			ParentID: c.req.ParentID,
			Size:     ent.temp.Size,
			SHA256:   ent.temp.SHA256,
			Body:     body,
		})
		if err != nil {
			return storeFailure(ent.path, err)
		}
		return nil
	})
	e.observer.ObserveLeafStore(time.Since(start), err)

	if err != nil {
		// pool closed or caller gone before the upload started
		var ee *EntryError
		if !errors.As(err, &ee) {
			err = storeFailure(ent.path, err)
		}
		e.record(ctx, rec.Failed(err, audit.FallbackUploadFailed))
		c.logger.Warn(ctx, "leaf upload failed", "path", ent.path, "kind", FailureKind(err), "err", err)
		return err
	}

	e.record(ctx, rec.Succeeded(id))
	asm.add(&Node{
		Name:           name,
		Path:           ent.path,
		CompressedSize: ent.compressedSize,
		ExtractedSize:  ent.temp.Size,
		StorageID:      id,
		SHA256:         ent.temp.SHA256,
		Children:       []*Node{},
	}, id)
	return nil
}

// record writes an audit entry. It outlives request cancellation so failure
// rows still land, and its own failure is only logged.
func (e *Engine) record(ctx context.Context, ent audit.Entry) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := e.opts.Audit.Record(actx, ent); err != nil {
		e.observer.ObserveAuditFailure()
		e.logger.Warn(ctx, "audit record failed", "path", ent.Path, "status", ent.Status, "err", err)
	}
}
