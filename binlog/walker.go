package binlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/santhosh-tekuri/avrorouter/avro"
)

// Outcome is the result of a pass over binlog files.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// the file ended with ROTATE or STOP, or the next file already
	// exists; the walker moved to the next file
	OutcomeRotated
	// the file ended with ROTATE or STOP, but the next file does not
	// exist yet
	OutcomeLastFile
	// a transaction was still open at the end of the file; its rows
	// were dropped and the walker moved back to its start
	OutcomeOpenTransaction
	// the file holds an event that cannot be decoded
	OutcomeBinlogError
	// the file ended without ROTATE or STOP; the server is probably
	// still writing to it
	OutcomeNoRotateOrClose
)

var outcomeNames = map[Outcome]string{
	OutcomeOK:              "ok",
	OutcomeRotated:         "rotated",
	OutcomeLastFile:        "last_file",
	OutcomeOpenTransaction: "open_transaction",
	OutcomeBinlogError:     "binlog_error",
	OutcomeNoRotateOrClose: "no_rotate_or_close",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

const (
	DefaultGroupRows = 1000
	DefaultGroupTrx  = 1

	CatalogFile      = "avro-catalog.json"
	DefaultStateFile = "avro-conversion.ini"
)

type Config struct {
	BinlogDir      string
	BinlogBasename string // used to find the first file when there is no state
	StartFile      string // first file when there is no state; overrides BinlogBasename
	AvroDir        string
	StateFile      string // defaults to AvroDir/avro-conversion.ini

	GroupRows int // flush after this many buffered rows at a commit
	GroupTrx  int // flush after this many committed transactions

	Codec        string
	MaxBlockSize int
	Fsync        bool
}

// Status is a snapshot of the progress of a walker.
type Status struct {
	File        string
	Position    int64
	GTID        string
	Events      int64
	Rows        int64
	Trx         bool
	Tables      []string
	LastOutcome Outcome
}

var (
	beginRE    = regexp.MustCompile(`(?i)^[[:space:]]*begin([[:space:]]+work)?[[:space:]]*;?[[:space:]]*$`)
	commitRE   = regexp.MustCompile(`(?i)^[[:space:]]*commit([[:space:]]+work)?[[:space:]]*;?[[:space:]]*$`)
	rollbackRE = regexp.MustCompile(`(?i)^[[:space:]]*rollback([[:space:]]+work)?[[:space:]]*;?[[:space:]]*$`)
)

type tableWriter struct {
	w   *avro.Writer
	def *TableDefinition

	// buffered position before the first row of the open transaction
	marked      bool
	markRecords int64
	markSize    int
}

type trx struct {
	open  bool
	start int64 // offset of the event that opened the transaction
	gtid  string
	group bool // opened by a MariaDB GTID event, BEGIN follows
	begun bool
}

// Walker converts binlog files into per table container files. It is
// driven by one goroutine; Status may be called concurrently.
type Walker struct {
	cfg     Config
	catalog *Catalog
	log     *log.Entry

	mu     sync.Mutex // guards status
	status Status

	file          string
	pos           int64
	gtid          string // gtid of the current or last transaction
	committedGTID string
	rotate        string
	stopped       bool
	prev          EventHeader
	trx           trx
	pendingTrx    int
	writers       map[string]*tableWriter // by container name
}

// NewWalker loads the conversion state and table catalog from the avro
// directory.
func NewWalker(cfg Config) (*Walker, error) {
	if cfg.GroupRows <= 0 {
		cfg.GroupRows = DefaultGroupRows
	}
	if cfg.GroupTrx <= 0 {
		cfg.GroupTrx = DefaultGroupTrx
	}
	if cfg.StateFile == "" {
		cfg.StateFile = filepath.Join(cfg.AvroDir, DefaultStateFile)
	}
	if _, err := avro.NewCodec(cfg.Codec); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.AvroDir, 0o755); err != nil {
		return nil, err
	}
	catalog, err := LoadCatalog(filepath.Join(cfg.AvroDir, CatalogFile))
	if err != nil {
		return nil, err
	}
	w := &Walker{
		cfg:     cfg,
		catalog: catalog,
		writers: make(map[string]*tableWriter),
		log:     log.WithFields(log.Fields{"binlogdir": cfg.BinlogDir, "avrodir": cfg.AvroDir}),
	}

	state, ok, err := LoadState(cfg.StateFile)
	if err != nil {
		return nil, err
	}
	if ok {
		w.file, w.pos, w.gtid = state.File, state.Position, state.GTID
		w.log.WithField("state", state).Info("resuming conversion")
	} else {
		w.file, w.pos = cfg.StartFile, int64(len(binlogMagic))
		if w.file == "" {
			if w.file, err = FirstBinlogFile(cfg.BinlogDir, cfg.BinlogBasename); err != nil {
				return nil, err
			}
		}
		w.log.WithField("file", w.file).Info("starting conversion")
	}
	w.committedGTID = w.gtid
	w.updateStatus()
	return w, nil
}

func (w *Walker) Catalog() *Catalog { return w.catalog }

func (w *Walker) State() State {
	return State{File: w.file, Position: w.pos, GTID: w.committedGTID}
}

func (w *Walker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.status
	s.Tables = append([]string(nil), s.Tables...)
	return s
}

func (w *Walker) updateStatus() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.File, w.status.Position, w.status.GTID, w.status.Trx = w.file, w.pos, w.gtid, w.trx.open
	if len(w.status.Tables) != len(w.writers) {
		w.status.Tables = w.status.Tables[:0]
		for name := range w.writers {
			w.status.Tables = append(w.status.Tables, name)
		}
		sort.Strings(w.status.Tables)
	}
}

// Run converts binlog files until a pass ends with something other
// than a rotation. ctx is checked between files only.
func (w *Walker) Run(ctx context.Context) (Outcome, error) {
	for {
		outcome, err := w.Pass()
		if outcome != OutcomeRotated {
			return outcome, err
		}
		if ctx.Err() != nil {
			return OutcomeOK, nil
		}
	}
}

// Pass converts the events of the current binlog file, from the current
// position to its end.
func (w *Walker) Pass() (Outcome, error) {
	outcome, err := w.pass()
	outcomesTotal.WithLabelValues(outcome.String()).Inc()
	w.mu.Lock()
	w.status.LastOutcome = outcome
	w.mu.Unlock()
	w.updateStatus()
	return outcome, err
}

func (w *Walker) pass() (Outcome, error) {
	flog := w.log.WithField("file", w.file)
	r, err := OpenFile(filepath.Join(w.cfg.BinlogDir, w.file))
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, io.ErrUnexpectedEOF) {
		flog.WithError(err).Debug("binlog file not ready")
		return OutcomeNoRotateOrClose, nil
	}
	if err != nil {
		return OutcomeBinlogError, err
	}
	defer r.Close()

	if err := r.Seek(w.pos); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return OutcomeNoRotateOrClose, nil
		}
		flog.WithError(err).Error("cannot read format description event")
		return OutcomeBinlogError, err
	}
	fde := r.FormatDescription()

	for {
		e, err := r.Next()
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			if err != io.EOF {
				flog.WithError(err).Debug("event not complete")
			}
			return w.endOfFile(flog)
		}
		if err != nil {
			flog.WithError(err).WithField("pos", r.Pos()).Error("binlog error")
			if serr := w.settle(); serr != nil {
				flog.WithError(serr).Error("cannot save state")
			}
			return OutcomeBinlogError, err
		}
		if f := r.FormatDescription(); f != fde {
			fde = f
			flog.WithFields(log.Fields{"server": fde.ServerVersion, "checksum": fde.ChecksumAlg}).Debug("format description")
		}

		h := &e.Header
		eventsTotal.WithLabelValues(h.EventType.String()).Inc()
		next := h.LogPos + int64(h.EventSize)
		if err := w.handle(e, next); err != nil {
			elog := flog.WithFields(log.Fields{"pos": h.LogPos, "event": h.EventType})
			if !isTableScoped(err) {
				elog.WithError(err).Error("binlog error")
				w.pos = h.LogPos
				if serr := w.settle(); serr != nil {
					elog.WithError(serr).Error("cannot save state")
				}
				return OutcomeBinlogError, err
			}
			elog.WithError(err).Warn("skipping event")
		}
		w.prev = *h
		w.pos = next
		w.mu.Lock()
		w.status.Events++
		w.mu.Unlock()
		w.updateStatus()
		positionGauge.WithLabelValues(w.file).Set(float64(w.pos))
	}
}

func isTableScoped(err error) bool {
	for _, target := range []error{ErrMalformedDDL, ErrNoTableMap, ErrNoDefinition, ErrColumnMismatch, ErrUnsupportedType} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// endOfFile decides the outcome once no complete event follows.
func (w *Walker) endOfFile(flog *log.Entry) (Outcome, error) {
	if w.trx.open {
		flog.WithFields(log.Fields{"trx_start": w.trx.start, "gtid": w.trx.gtid}).Info("open transaction at end of file")
		if err := w.settle(); err != nil {
			return OutcomeBinlogError, err
		}
		return OutcomeOpenTransaction, nil
	}
	if err := w.flush(); err != nil {
		return OutcomeBinlogError, err
	}

	next := w.rotate
	if next == "" {
		var err error
		if next, err = nextBinlogFile(w.file); err != nil {
			return OutcomeBinlogError, err
		}
	}
	exists, err := fileExists(filepath.Join(w.cfg.BinlogDir, next))
	if err != nil {
		return OutcomeBinlogError, err
	}
	switch {
	case exists:
		if w.rotate == "" && !w.stopped {
			flog.WithField("next", next).Warn("file ended without rotate or stop, but next file exists")
		}
		flog.WithField("next", next).Info("rotating")
		positionGauge.Reset()
		w.file, w.pos = next, int64(len(binlogMagic))
		w.rotate, w.stopped = "", false
		w.catalog.ResetTableMaps()
		if err := w.saveState(); err != nil {
			return OutcomeBinlogError, err
		}
		return OutcomeRotated, nil
	case w.rotate != "" || w.stopped:
		return OutcomeLastFile, nil
	}
	return OutcomeNoRotateOrClose, nil
}

// settle brings the containers and the state file to the last commit
// point: rows of an open transaction are dropped, committed rows are
// flushed.
func (w *Walker) settle() error {
	if w.trx.open {
		for name, tw := range w.writers {
			if !tw.marked {
				continue
			}
			if err := tw.w.Rewind(tw.markRecords, tw.markSize); err != nil {
				return fmt.Errorf("rollback %s: %w", name, err)
			}
			tw.marked = false
		}
		w.pos, w.gtid = w.trx.start, w.committedGTID
		w.trx = trx{}
	}
	return w.flush()
}

// flush writes the buffered rows of all tables and saves the state.
func (w *Walker) flush() error {
	for name, tw := range w.writers {
		if n, _ := tw.w.Buffered(); n == 0 {
			continue
		}
		if err := tw.w.Flush(); err != nil {
			return err
		}
		blocksTotal.WithLabelValues(name).Inc()
	}
	w.pendingTrx = 0
	return w.saveState()
}

func (w *Walker) saveState() error {
	if err := w.catalog.Save(filepath.Join(w.cfg.AvroDir, CatalogFile)); err != nil {
		return err
	}
	return SaveState(w.cfg.StateFile, w.State())
}

func (w *Walker) buffered() int64 {
	var n int64
	for _, tw := range w.writers {
		records, _ := tw.w.Buffered()
		n += records
	}
	return n
}

func (w *Walker) handle(e *Event, next int64) error {
	h := &e.Header
	switch d := e.Data.(type) {
	case *MariadbGTIDEvent:
		if w.trx.open {
			return fmt.Errorf("%w: gtid %s inside %s", ErrNestedTransaction, d, w.trx.gtid)
		}
		w.gtid = d.String()
		if !d.Standalone() {
			w.begin(h.LogPos, true)
		}
	case *GTIDEvent:
		if w.trx.open {
			return fmt.Errorf("%w: gtid %s inside %s", ErrNestedTransaction, d, w.trx.gtid)
		}
		w.gtid = d.String()
	case *QueryEvent:
		return w.query(h, d, next)
	case *XidEvent:
		return w.commit(next)
	case *TableMapEntry:
		d.GTID = w.gtid
		_, err := w.tableWriter(w.catalog.TableMap(d))
		return err
	case *RowsEvent:
		return w.rows(h, d)
	case *RotateEvent:
		if h.Flags&flagArtificial == 0 {
			w.rotate = d.NextBinlog
		}
	case *StopEvent:
		w.stopped = true
	}
	return nil
}

func (w *Walker) begin(pos int64, group bool) {
	w.trx = trx{open: true, start: pos, gtid: w.gtid, group: group}
	w.log.WithFields(log.Fields{"pos": pos, "gtid": w.gtid}).Trace("begin")
}

func (w *Walker) query(h *EventHeader, q *QueryEvent, next int64) error {
	sql := q.Query
	switch {
	case beginRE.MatchString(sql):
		if w.trx.open {
			if w.trx.group && !w.trx.begun {
				w.trx.begun = true
				return nil
			}
			return fmt.Errorf("%w: BEGIN at %d inside transaction started at %d", ErrNestedTransaction, h.LogPos, w.trx.start)
		}
		start := h.LogPos
		if w.prev.EventType == GTID_EVENT && w.prev.LogPos+int64(w.prev.EventSize) == h.LogPos {
			start = w.prev.LogPos
		}
		w.begin(start, false)
	case commitRE.MatchString(sql):
		if w.trx.open {
			return w.commit(next)
		}
	case rollbackRE.MatchString(sql):
		if w.trx.open {
			w.rollback()
		}
	case isCreateTable(sql), isAlterTable(sql):
		return w.ddl(q, next)
	}
	return nil
}

// ddl applies a CREATE or ALTER TABLE statement. Outside a transaction
// buffered rows are flushed before, and the state saved after it, so a
// rollback never crosses a schema change.
func (w *Walker) ddl(q *QueryEvent, next int64) error {
	if !w.trx.open {
		if err := w.flush(); err != nil {
			return err
		}
	}
	var def *TableDefinition
	var err error
	if isCreateTable(q.Query) {
		def, err = w.catalog.CreateTable(q.Query, q.Schema, w.gtid)
	} else {
		def, err = w.catalog.AlterTable(q.Query, q.Schema, w.gtid)
	}
	if err != nil {
		return err
	}
	w.log.WithFields(log.Fields{"table": def.Ident(), "version": def.Version, "columns": def.ColumnNames()}).Debug("table definition")

	// writers of replaced versions are done, and so are those of an
	// unwritten version the statement redefined in place
	for name, tw := range w.writers {
		if tw.def.Ident() != def.Ident() || tw.marked {
			continue
		}
		unwritten := tw.def.Version == def.Version && !def.Written && tw.w.Blocks() == 0
		if tw.def.Version == def.Version && !unwritten {
			continue
		}
		if err := tw.w.Close(); err != nil {
			return err
		}
		delete(w.writers, name)
		if unwritten {
			if err := os.Remove(tw.w.Name()); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	if w.trx.open {
		return nil
	}
	w.committedGTID = w.gtid
	w.pos = next
	return w.saveState()
}

func (w *Walker) commit(next int64) error {
	if !w.trx.open {
		w.log.WithField("pos", next).Debug("commit without transaction")
	}
	for _, tw := range w.writers {
		tw.marked = false
	}
	w.trx = trx{}
	w.committedGTID = w.gtid
	w.pendingTrx++
	w.log.WithFields(log.Fields{"next": next, "gtid": w.gtid}).Trace("commit")
	if w.buffered() >= int64(w.cfg.GroupRows) || w.pendingTrx >= w.cfg.GroupTrx {
		w.pos = next
		return w.flush()
	}
	return nil
}

// rollback drops the rows of a transaction ended with ROLLBACK.
func (w *Walker) rollback() {
	for name, tw := range w.writers {
		if tw.marked {
			if err := tw.w.Rewind(tw.markRecords, tw.markSize); err != nil {
				w.log.WithError(err).WithField("table", name).Error("cannot drop rolled back rows")
			}
			tw.marked = false
		}
	}
	w.gtid = w.committedGTID
	w.trx = trx{}
}

// tableWriter returns the writer rows of e are appended to, opening its
// container on first use.
func (w *Walker) tableWriter(e *TableMapEntry) (*tableWriter, error) {
	_, def, err := w.catalog.Lookup(e.ID)
	if err != nil {
		return nil, err
	}
	name := containerName(def.Database, def.Table, def.Version)
	schema := tableSchema(def, e)
	if tw, ok := w.writers[name]; ok {
		if !tw.w.Schema().Equal(schema) {
			return nil, fmt.Errorf("%w: %s: table map does not match schema %s", ErrColumnMismatch, name, tw.w.Schema())
		}
		tw.def = def
		return tw, nil
	}
	file := ContainerFile(w.cfg.AvroDir, def.Database, def.Table, def.Version)
	aw, err := openContainer(file, schema, avro.WriterOptions{
		Codec:        w.cfg.Codec,
		MaxBlockSize: w.cfg.MaxBlockSize,
		Fsync:        w.cfg.Fsync,
	})
	if err != nil {
		return nil, err
	}
	w.log.WithFields(log.Fields{"table": def.Ident(), "container": file}).Info("opened container")
	tw := &tableWriter{w: aw, def: def}
	w.writers[name] = tw
	return tw, nil
}

func (w *Walker) rows(h *EventHeader, e *RowsEvent) error {
	if e.Dummy() {
		return nil
	}
	t, def, err := w.catalog.Lookup(e.TableID)
	if err != nil {
		if t != nil {
			tableErrorsTotal.WithLabelValues(t.Ident()).Inc()
		}
		return err
	}
	tw, err := w.tableWriter(t)
	if err != nil {
		tableErrorsTotal.WithLabelValues(t.Ident()).Inc()
		return err
	}
	if !def.Written {
		file := SchemaFile(w.cfg.AvroDir, def.Database, def.Table, def.Version)
		if err := writeSchemaFile(file, tw.w.Schema()); err != nil {
			return err
		}
		if w.catalog.MarkWritten(def) {
			w.log.WithFields(log.Fields{"table": def.Ident(), "schema": file}).Info("wrote schema")
		}
	}
	if w.trx.open && !tw.marked {
		tw.marked = true
		tw.markRecords, tw.markSize = tw.w.Buffered()
	}

	records, size := tw.w.Buffered()
	n, err := w.appendRows(h, e, t, def, tw)
	if err != nil {
		if rerr := tw.w.Rewind(records, size); rerr != nil {
			return rerr
		}
		if errors.Is(err, avro.ErrBlockTooLarge) {
			return err
		}
		tableErrorsTotal.WithLabelValues(t.Ident()).Inc()
		if isTableScoped(err) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrColumnMismatch, t.Ident(), err)
	}
	w.mu.Lock()
	w.status.Rows += int64(n)
	w.mu.Unlock()
	return nil
}

func (w *Walker) appendRows(h *EventHeader, e *RowsEvent, t *TableMapEntry, def *TableDefinition, tw *tableWriter) (int, error) {
	n := 0
	add := func(eventType string, row RowImage) error {
		rec := make(avro.Record, 0, numLeadingFields+len(row))
		rec = append(rec, w.gtid, int32(h.Timestamp), eventType)
		rec = append(rec, row...)
		if err := tw.w.Append(rec); err != nil {
			return err
		}
		rowsTotal.WithLabelValues(t.Ident(), eventType).Inc()
		n++
		return nil
	}
	for e.more() {
		row, err := e.decodeRow(t, def, e.Present)
		if err != nil {
			return n, err
		}
		switch {
		case e.Type.IsWriteRows():
			err = add(Insert, row)
		case e.Type.IsDeleteRows():
			err = add(Delete, row)
		default:
			var after RowImage
			if after, err = e.decodeRow(t, def, e.Update); err != nil {
				return n, err
			}
			if err = add(UpdateBefore, row); err == nil {
				err = add(UpdateAfter, after)
			}
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Close flushes committed rows and closes the containers. Rows of an
// open transaction are dropped.
func (w *Walker) Close() error {
	err := w.settle()
	for name, tw := range w.writers {
		if cerr := tw.w.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", name, cerr)
		}
	}
	w.writers = map[string]*tableWriter{}
	return err
}
