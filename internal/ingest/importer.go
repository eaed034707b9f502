package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"onboarding-calls/internal/audit"
	"onboarding-calls/internal/calls"
	"onboarding-calls/internal/riders"
	"onboarding-calls/pkg/apperr"
	"onboarding-calls/pkg/logger"
	"onboarding-calls/pkg/opt"
	"onboarding-calls/pkg/phone"
	"onboarding-calls/pkg/utils"
)

type Schema string

const (
	SchemaAuto   Schema = "auto"
	SchemaLegacy Schema = "legacy"
	SchemaV2     Schema = "v2"
)

func ParseSchema(s string) (Schema, bool) {
	switch Schema(strings.ToLower(strings.TrimSpace(s))) {
	case "", SchemaAuto:
		return SchemaAuto, true
	case SchemaLegacy:
		return SchemaLegacy, true
	case SchemaV2, "dataset_v2", "dataset-v2":
		return SchemaV2, true
	default:
		return "", false
	}
}

// Header aliases, already normalized.
var (
	colExternalID    = []string{"external_id", "external id", "externalid", "driver_id", "driver id", "id_driver"}
	colName          = []string{"name", "driver name", "driver_name", "full name", "full_name", "nombre"}
	colPhone         = []string{"phone", "phone number", "phone_number", "phonenumber", "mobile", "telefono", "teléfono"}
	colCity          = []string{"city", "ciudad"}
	colSignupDate    = []string{"signup date", "signup_date", "sign up date", "registration date", "fecha alta"}
	colFlowType      = []string{"flow type", "flow_type", "flow"}
	colDocuments     = []string{"documents uploaded", "documents_uploaded", "documents status", "documents_status"}
	colLicense       = []string{"license country", "license_country", "licence country", "licence_country"}
	colResidency     = []string{"residency status", "residency_status", "residence permit", "residency permit"}
	colRunID         = []string{"run id", "run_id", "runid", "workflow run id"}
	colStatus        = []string{"call status", "call_status", "status"}
	colContactStatus = []string{"contact status", "contact_status", "last contact status", "last_contact_status", "outcome"}
	colContactedAt   = []string{"contacted at", "contacted_at", "last contact", "last contact at", "last_contact_at"}
	colSummary       = []string{"summary", "call summary"}
	colTranscript    = []string{"transcript"}
	colSentiment     = []string{"sentiment"}
	colUrgent        = []string{"urgent", "urgent flag", "urgent_flag"}
	colLegal         = []string{"legal issue", "legal_issue", "legal issue flag", "legal_issue_flag"}
	colHuman         = []string{"human requested", "human_requested", "human requested flag", "human_requested_flag", "wants human"}
)

// Summary counts what one import did.
type Summary struct {
	Schema        Schema `json:"schema"`
	Rows          int    `json:"rows"`
	RidersCreated int    `json:"ridersCreated"`
	RidersUpdated int    `json:"ridersUpdated"`
	CallsCreated  int    `json:"callsCreated"`
	CallsUpdated  int    `json:"callsUpdated"`
	Skipped       int    `json:"skipped"`
}

// Importer loads rider/call spreadsheets. Every row commits in its own transaction.
type Importer struct {
	store  calls.Store
	events calls.EventRecorder
	region string
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewImporter(store calls.Store, events calls.EventRecorder, region string) *Importer {
	if region == "" {
		region = phone.DefaultRegion
	}
	return &Importer{store: store, events: events, region: region, clock: time.Now}
}

// DetectSchema picks legacy when the table has an external id column and v2
// when it has a city column without one.
func DetectSchema(t *Table) (Schema, bool) {
	if _, ok := t.Column(colExternalID...); ok {
		return SchemaLegacy, true
	}
	if _, ok := t.Column(colCity...); ok {
		return SchemaV2, true
	}
	return "", false
}

// Import parses r and applies each row. A store failure stops the import;
// rows committed before it stay committed and are reflected in the summary.
func (im *Importer) Import(ctx context.Context, r io.Reader, schema Schema) (Summary, error) {
	t, err := ParseTable(r)
	if err != nil {
		return Summary{}, apperr.Wrap(apperr.KindBadRequest, "could not read table", err)
	}
	if schema == SchemaAuto || schema == "" {
		detected, ok := DetectSchema(t)
		if !ok {
			return Summary{}, apperr.BadRequest("unrecognised table: expected an external id or city column")
		}
		schema = detected
	}

	sum := Summary{Schema: schema}
	batch := uuid.NewString()
	log := logger.From(ctx).With("import_batch", batch, "schema", string(schema))

	for i, row := range t.Rows {
		sum.Rows++
		var err error
		switch schema {
		case SchemaLegacy:
			err = im.legacyRow(ctx, t, row, batch, &sum)
		case SchemaV2:
			err = im.v2Row(ctx, t, row, batch, &sum)
		default:
			return Summary{}, apperr.BadRequest(fmt.Sprintf("unknown schema %q", schema))
		}
		if errors.Is(err, errSkipRow) {
			sum.Skipped++
			continue
		}
		if err != nil {
			log.Error("import row failed", "row", i+2, "err", err)
			return sum, apperr.Wrap(apperr.KindInternal, fmt.Sprintf("import stopped at row %d", i+2), err)
		}
	}

	log.Info("import finished", "rows", sum.Rows, "skipped", sum.Skipped,
		"riders_created", sum.RidersCreated, "riders_updated", sum.RidersUpdated,
		"calls_created", sum.CallsCreated, "calls_updated", sum.CallsUpdated)
	if im.events != nil {
		im.events.Record(ctx, audit.Event{
			Type:    audit.EventImportBatch,
			Message: "import " + string(schema),
			Metadata: utils.JSONMap{
				"batch":         batch,
				"rows":          sum.Rows,
				"skipped":       sum.Skipped,
				"ridersCreated": sum.RidersCreated,
				"ridersUpdated": sum.RidersUpdated,
				"callsCreated":  sum.CallsCreated,
				"callsUpdated":  sum.CallsUpdated,
			},
		})
	}
	return sum, nil
}

var errSkipRow = errors.New("ingest: skip row")

// rowFields are the rider attributes both schemas share.
type rowFields struct {
	name            opt.Value[string]
	phone           string
	city            opt.Value[string]
	signupDate      opt.Value[time.Time]
	flowType        opt.Value[string]
	documents       opt.Value[riders.DocumentsStatus]
	licenseCountry  opt.Value[string]
	residencyStatus opt.Value[string]
	documentDetails map[string]any
}

func (im *Importer) readRiderFields(t *Table, row []string) rowFields {
	f := rowFields{
		name:            NonEmpty(t.Value(row, colName...)),
		city:            NonEmpty(t.Value(row, colCity...)),
		signupDate:      LooseDate(t.Value(row, colSignupDate...)),
		flowType:        NonEmpty(t.Value(row, colFlowType...)),
		licenseCountry:  NonEmpty(t.Value(row, colLicense...)),
		residencyStatus: NonEmpty(t.Value(row, colResidency...)),
	}
	if p := t.Value(row, colPhone...); p != "" {
		f.phone = phone.NormalizeE164(p, im.region)
	}
	if d, ok := riders.ParseDocumentsStatus(t.Value(row, colDocuments...)); ok {
		f.documents = opt.Some(d)
	}
	return f
}

func (f rowFields) apply(r *riders.Rider) {
	f.name.Apply(&r.Name)
	if f.phone != "" {
		r.Phone = f.phone
	}
	if v, ok := f.city.Get(); ok {
		r.City = &v
	}
	if v, ok := f.signupDate.Get(); ok {
		r.SignupDate = &v
	}
	if v, ok := f.flowType.Get(); ok {
		r.FlowType = &v
	}
	if v, ok := f.documents.Get(); ok {
		r.DocumentsUploaded = &v
	}
	if v, ok := f.licenseCountry.Get(); ok {
		r.LicenseCountry = &v
	}
	if v, ok := f.residencyStatus.Get(); ok {
		r.ResidencyStatus = &v
	}
	if len(f.documentDetails) > 0 {
		if r.DocumentDetails == nil {
			r.DocumentDetails = utils.JSONMap{}
		}
		for k, v := range f.documentDetails {
			r.DocumentDetails[k] = v
		}
	}
}

func readResult(t *Table, row []string) calls.Result {
	var res calls.Result
	res.RunID = NonEmpty(t.Value(row, colRunID...))
	if s, ok := calls.ParseCallStatus(t.Value(row, colStatus...)); ok {
		res.Status = opt.Some(s)
	}
	if s, ok := riders.ParseContactStatus(t.Value(row, colContactStatus...)); ok {
		res.ContactStatus = opt.Some(s)
	}
	res.Summary = NonEmpty(t.Value(row, colSummary...))
	res.Transcript = NonEmpty(t.Value(row, colTranscript...))
	res.Sentiment = NonEmpty(t.Value(row, colSentiment...))
	res.Urgent = LooseBool(t.Value(row, colUrgent...))
	res.LegalIssue = LooseBool(t.Value(row, colLegal...))
	res.HumanRequested = LooseBool(t.Value(row, colHuman...))
	return res
}

// legacyRow upserts the rider by external id and, when the row carries call
// data, updates or creates the matching call.
func (im *Importer) legacyRow(ctx context.Context, t *Table, row []string, batch string, sum *Summary) error {
	ext, ok := LooseInt(t.Value(row, colExternalID...)).Get()
	fields := im.readRiderFields(t, row)
	if !ok || fields.phone == "" {
		return errSkipRow
	}
	res := readResult(t, row)
	contactedAt := LooseDate(t.Value(row, colContactedAt...))
	hasContact := res.HasContactFields() || contactedAt.IsPresent()

	now := im.clock().UTC()
	provenance := map[string]any{"batch": batch, "schema": string(SchemaLegacy)}
	var delta Summary

	err := im.store.WithTx(ctx, func(ctx context.Context, tx calls.Tx) error {
		delta = Summary{}
		rider, err := tx.LockRiderByExternalID(ctx, ext)
		created := errors.Is(err, calls.ErrNotFound)
		switch {
		case created:
			rider = riders.Rider{ID: uuid.NewString(), ExternalID: &ext, DocumentDetails: utils.JSONMap{}, CreatedAt: now}
		case err != nil:
			return err
		}
		fields.apply(&rider)
		rider.UpdatedAt = now
		if created {
			if err := tx.InsertRider(ctx, rider); err != nil {
				return err
			}
			delta.RidersCreated++
		}

		at := contactedAt.Or(now)
		if runID, ok := res.RunID.Get(); ok {
			call, err := tx.FindCallByRunID(ctx, runID)
			switch {
			case err == nil && call.RiderID != rider.ID:
				return errSkipRow
			case err == nil:
				if call, err = tx.LockCall(ctx, call.ID); err != nil {
					return err
				}
				merged, _ := calls.MergeImport(call, res, at, now, provenance)
				if err := tx.UpdateCall(ctx, merged); err != nil {
					return err
				}
				delta.CallsUpdated++
			case errors.Is(err, calls.ErrNotFound):
				if err := tx.InsertCall(ctx, calls.NewImportedCall(rider.ID, res, at, now, provenance)); err != nil {
					return err
				}
				delta.CallsCreated++
			default:
				return err
			}
		} else if hasContact {
			call, err := tx.LatestCall(ctx, rider.ID)
			switch {
			case err == nil:
				merged, _ := calls.MergeImport(call, res, at, now, provenance)
				if err := tx.UpdateCall(ctx, merged); err != nil {
					return err
				}
				delta.CallsUpdated++
			case errors.Is(err, calls.ErrNotFound):
				if err := tx.InsertCall(ctx, calls.NewImportedCall(rider.ID, res, at, now, provenance)); err != nil {
					return err
				}
				delta.CallsCreated++
			default:
				return err
			}
		}

		if hasContact {
			rider.ApplyContact(res.ContactUpdate(at))
			rider.UpdatedAt = now
		}
		if !created {
			if err := tx.UpdateRider(ctx, rider); err != nil {
				return err
			}
			delta.RidersUpdated++
		} else if hasContact {
			if err := tx.UpdateRider(ctx, rider); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	sum.add(delta)
	return nil
}

// v2Row soft-matches the rider on (name, phone, city) and aggregates the
// per-document columns into documents_uploaded.
func (im *Importer) v2Row(ctx context.Context, t *Table, row []string, batch string, sum *Summary) error {
	fields := im.readRiderFields(t, row)
	name, ok := fields.name.Get()
	if !ok || fields.phone == "" {
		return errSkipRow
	}

	var flags []opt.Value[bool]
	details := map[string]any{}
	for i, h := range t.Header {
		if !isDocumentColumn(h) {
			continue
		}
		raw := Cell(row, i)
		flag := LooseBool(raw)
		flags = append(flags, flag)
		if v, ok := flag.Get(); ok {
			details[h] = v
		} else if raw != "" {
			details[h] = raw
		}
	}
	if agg := AggregateDocuments(flags); agg.IsPresent() {
		fields.documents = agg
	}
	details["importBatch"] = batch
	fields.documentDetails = details

	now := im.clock().UTC()
	var city *string
	if c, ok := fields.city.Get(); ok {
		city = &c
	}

	var delta Summary
	err := im.store.WithTx(ctx, func(ctx context.Context, tx calls.Tx) error {
		delta = Summary{}
		rider, err := tx.FindRiderByIdentity(ctx, riders.Identity{Name: name, Phone: fields.phone, City: city})
		switch {
		case err == nil:
			fields.apply(&rider)
			rider.UpdatedAt = now
			if err := tx.UpdateRider(ctx, rider); err != nil {
				return err
			}
			delta.RidersUpdated++
		case errors.Is(err, calls.ErrNotFound):
			rider = riders.Rider{ID: uuid.NewString(), DocumentDetails: utils.JSONMap{}, CreatedAt: now, UpdatedAt: now}
			fields.apply(&rider)
			if err := tx.InsertRider(ctx, rider); err != nil {
				return err
			}
			delta.RidersCreated++
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	sum.add(delta)
	return nil
}

// isDocumentColumn matches per-document flag headers in dataset v2.
func isDocumentColumn(h string) bool {
	return strings.Contains(h, "uploaded") || strings.HasPrefix(h, "doc")
}

func (s *Summary) add(d Summary) {
	s.RidersCreated += d.RidersCreated
	s.RidersUpdated += d.RidersUpdated
	s.CallsCreated += d.CallsCreated
	s.CallsUpdated += d.CallsUpdated
}
