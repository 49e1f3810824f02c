package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainbooking "charterpay/internal/domain/booking"
	domainpayment "charterpay/internal/domain/payment"
	"charterpay/internal/domain/shared/money"
)

type PaymentRepository struct {
	col *mongo.Collection
}

func NewPaymentRepository(db *mongo.Database) *PaymentRepository {
	col := db.Collection("agg_booking_payment")
	_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "external_reference", Value: 1}},
		Options: options.Index().SetSparse(true),
	})
	_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "booking_id", Value: 1}, {Key: "state", Value: 1}},
	})
	return &PaymentRepository{col: col}
}

func (r *PaymentRepository) ByID(ctx context.Context, id domainpayment.PaymentID) (*domainpayment.BookingPayment, error) {
	var doc paymentDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domainpayment.ErrPaymentNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *PaymentRepository) ByExternalReference(ctx context.Context, ref string) (*domainpayment.BookingPayment, error) {
	var doc paymentDocument
	if err := r.col.FindOne(ctx, bson.M{"external_reference": ref}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domainpayment.ErrPaymentNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

// ActiveByBooking returns the booking's non-terminal payment, or nil.
func (r *PaymentRepository) ActiveByBooking(ctx context.Context, id domainbooking.BookingID) (*domainpayment.BookingPayment, error) {
	active := []string{
		string(domainpayment.StateCreated),
		string(domainpayment.StateAuthorized),
		string(domainpayment.StateCaptured),
	}
	var doc paymentDocument
	err := r.col.FindOne(ctx, bson.M{"booking_id": string(id), "state": bson.M{"$in": active}}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

// AuthorizedBefore lists payments stuck in the escrow window past the cutoff,
// oldest first. The reconciliation sweep uses it to re-poll the gateway.
func (r *PaymentRepository) AuthorizedBefore(ctx context.Context, rail domainpayment.Rail, cutoff time.Time, limit int) ([]*domainpayment.BookingPayment, error) {
	if limit <= 0 {
		limit = 50
	}
	filter := bson.M{
		"rail":          string(rail),
		"state":         string(domainpayment.StateAuthorized),
		"authorized_at": bson.M{"$lt": cutoff.UnixMilli(), "$gt": 0},
	}
	opts := options.Find().SetSort(bson.D{{Key: "authorized_at", Value: 1}}).SetLimit(int64(limit))
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var out []*domainpayment.BookingPayment
	for cursor.Next(ctx) {
		var doc paymentDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toAggregate())
	}
	return out, cursor.Err()
}

// Save persists the aggregate behind an optimistic version check. A write
// that matches neither the expected version nor a fresh id loses the race.
func (r *PaymentRepository) Save(ctx context.Context, p *domainpayment.BookingPayment) error {
	doc := newPaymentDocument(p)
	filter := bson.M{"_id": doc.ID, "version": p.Version}
	doc.Version = p.Version + 1
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)
	res, err := r.col.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainpayment.ErrConcurrentUpdate
		}
		return err
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return domainpayment.ErrConcurrentUpdate
	}
	p.Version = doc.Version
	return nil
}

type paymentDocument struct {
	ID                 string               `bson:"_id"`
	BookingID          string               `bson:"booking_id"`
	Rail               string               `bson:"rail"`
	ExternalReference  string               `bson:"external_reference,omitempty"`
	ReceiveCurrency    string               `bson:"receive_currency,omitempty"`
	Amount             int64                `bson:"amount"`
	Currency           string               `bson:"currency"`
	State              string               `bson:"state"`
	SettledAmount      string               `bson:"settled_amount,omitempty"`
	SettledCurrency    string               `bson:"settled_currency,omitempty"`
	CreatedAt          int64                `bson:"created_at"`
	AuthorizedAt       int64                `bson:"authorized_at,omitempty"`
	CapturedAt         int64                `bson:"captured_at,omitempty"`
	CompletedAt        int64                `bson:"completed_at,omitempty"`
	CancelledAt        int64                `bson:"cancelled_at,omitempty"`
	RefundedAt         int64                `bson:"refunded_at,omitempty"`
	FailedAt           int64                `bson:"failed_at,omitempty"`
	FailureReason      string               `bson:"failure_reason,omitempty"`
	CancelReason       string               `bson:"cancel_reason,omitempty"`
	Adjustments        []adjustmentDocument `bson:"adjustments,omitempty"`
	LastExternalStatus string               `bson:"last_external_status,omitempty"`
	Version            int64                `bson:"version"`
}

type adjustmentDocument struct {
	PreviousAmount int64  `bson:"previous_amount"`
	Currency       string `bson:"currency"`
	Note           string `bson:"note,omitempty"`
	AdjustedAt     int64  `bson:"adjusted_at"`
}

func newPaymentDocument(p *domainpayment.BookingPayment) paymentDocument {
	doc := paymentDocument{
		ID:                 string(p.ID),
		BookingID:          string(p.BookingID),
		Rail:               string(p.Rail),
		ExternalReference:  p.ExternalReference,
		ReceiveCurrency:    p.ReceiveCurrency,
		Amount:             p.Amount.Amount,
		Currency:           p.Amount.Currency,
		State:              string(p.State),
		CreatedAt:          p.CreatedAt.UnixMilli(),
		AuthorizedAt:       msOrZero(p.AuthorizedAt),
		CapturedAt:         msOrZero(p.CapturedAt),
		CompletedAt:        msOrZero(p.CompletedAt),
		CancelledAt:        msOrZero(p.CancelledAt),
		RefundedAt:         msOrZero(p.RefundedAt),
		FailedAt:           msOrZero(p.FailedAt),
		FailureReason:      p.FailureReason,
		CancelReason:       p.CancelReason,
		LastExternalStatus: p.LastExternalStatus,
		Version:            p.Version,
	}
	if p.Settled != nil {
		doc.SettledAmount = p.Settled.Amount
		doc.SettledCurrency = p.Settled.Currency
	}
	for _, adj := range p.Adjustments {
		doc.Adjustments = append(doc.Adjustments, adjustmentDocument{
			PreviousAmount: adj.PreviousAmount.Amount,
			Currency:       adj.PreviousAmount.Currency,
			Note:           adj.Note,
			AdjustedAt:     adj.AdjustedAt.UnixMilli(),
		})
	}
	return doc
}

func (d paymentDocument) toAggregate() *domainpayment.BookingPayment {
	p := &domainpayment.BookingPayment{
		ID:                 domainpayment.PaymentID(d.ID),
		BookingID:          domainbooking.BookingID(d.BookingID),
		Rail:               domainpayment.Rail(d.Rail),
		ExternalReference:  d.ExternalReference,
		ReceiveCurrency:    d.ReceiveCurrency,
		Amount:             money.Money{Amount: d.Amount, Currency: d.Currency},
		State:              domainpayment.State(d.State),
		CreatedAt:          timestampToTime(d.CreatedAt),
		AuthorizedAt:       optionalTime(d.AuthorizedAt),
		CapturedAt:         optionalTime(d.CapturedAt),
		CompletedAt:        optionalTime(d.CompletedAt),
		CancelledAt:        optionalTime(d.CancelledAt),
		RefundedAt:         optionalTime(d.RefundedAt),
		FailedAt:           optionalTime(d.FailedAt),
		FailureReason:      d.FailureReason,
		CancelReason:       d.CancelReason,
		LastExternalStatus: d.LastExternalStatus,
		Version:            d.Version,
	}
	if d.SettledAmount != "" || d.SettledCurrency != "" {
		p.Settled = &domainpayment.SettledFunds{Amount: d.SettledAmount, Currency: d.SettledCurrency}
	}
	for _, adj := range d.Adjustments {
		p.Adjustments = append(p.Adjustments, domainpayment.AdminAdjustment{
			PreviousAmount: money.Money{Amount: adj.PreviousAmount, Currency: adj.Currency},
			Note:           adj.Note,
			AdjustedAt:     timestampToTime(adj.AdjustedAt),
		})
	}
	return p
}

func msOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func optionalTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return timestampToTime(ms)
}

var _ domainpayment.Repository = (*PaymentRepository)(nil)
