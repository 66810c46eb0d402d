// Package rkeeper implements the POS adapter for the R-Keeper (UCS) RK7 XML
// interface. Every command carries a session id obtained via CreateSession;
// sessions live about 30 minutes and renew under single-flight.
package rkeeper

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	gw "github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/gateway/session"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/httpx"
	posdomain "github.com/edoardok-cmd/BoomCard-sub001/internal/pos/domain"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/sign"
	"go.uber.org/zap"
)

const ProviderName = "rkeeper"

const interfacePath = "/rk7api/v0/xmlinterface.xml"

// Sessions are valid for 30 minutes; renew a little early.
const sessionTTL = 30 * time.Minute

type Adapter struct {
	log           *zap.Logger
	http          *httpx.Client
	baseURL       string
	stationID     string
	cashierID     string
	password      string
	webhookSecret string
	sessions      *session.Cache
}

func New(creds gw.Credentials, deps posdomain.Deps) (posdomain.Adapter, error) {
	baseURL := creds.Get("base_url")
	stationID := creds.Get("station_id")
	cashierID := creds.Get("cashier_id")
	password := creds.Get("password")
	if baseURL == "" || stationID == "" || cashierID == "" || password == "" {
		return nil, fmt.Errorf("%s: %w: base_url, station_id, cashier_id, password", ProviderName, gw.ErrMissingCredentials)
	}

	return &Adapter{
		log:           deps.Log.Named("pos.rkeeper"),
		http:          httpx.New(ProviderName, deps.Timeout),
		baseURL:       strings.TrimRight(baseURL, "/"),
		stationID:     stationID,
		cashierID:     cashierID,
		password:      password,
		webhookSecret: creds.Get("webhook_secret"),
		sessions:      &session.Cache{Skew: time.Minute},
	}, nil
}

func (a *Adapter) Provider() string { return ProviderName }

// query is the RK7Query request envelope. Empty fields are omitted so the
// same shape serves every command.
type query struct {
	XMLName xml.Name `xml:"RK7Query"`
	Cmd     command  `xml:"RK7CMD"`
}

type command struct {
	CMD             string `xml:"CMD,attr"`
	Station         string `xml:"Station,omitempty"`
	Cashier         string `xml:"Cashier,omitempty"`
	Password        string `xml:"Password,omitempty"`
	SessionID       string `xml:"SessionId,omitempty"`
	CheckID         string `xml:"CheckId,omitempty"`
	DateFrom        string `xml:"DateFrom,omitempty"`
	DateTo          string `xml:"DateTo,omitempty"`
	DiscountPercent string `xml:"DiscountPercent,omitempty"`
	CardNumber      string `xml:"CardNumber,omitempty"`
}

// response is the RK7 reply envelope. Check fields appear either at the top
// level (single-check commands) or as repeated Check elements.
type response struct {
	XMLName   xml.Name
	SessionID string  `xml:"SessionId"`
	Status    string  `xml:"Status"`
	ErrorText string  `xml:"ErrorText"`
	Checks    []check `xml:"Check"`

	CheckID     string  `xml:"CheckId"`
	TableID     string  `xml:"TableId"`
	OpenTime    string  `xml:"OpenTime"`
	TotalSum    float64 `xml:"TotalSum"`
	DiscountSum float64 `xml:"DiscountSum"`
	ResultSum   float64 `xml:"ResultSum"`
}

type check struct {
	CheckID     string  `xml:"CheckId"`
	TableID     string  `xml:"TableId"`
	Status      string  `xml:"Status"`
	OpenTime    string  `xml:"OpenTime"`
	CloseTime   string  `xml:"CloseTime"`
	TotalSum    float64 `xml:"TotalSum"`
	DiscountSum float64 `xml:"DiscountSum"`
	ResultSum   float64 `xml:"ResultSum"`
}

func (a *Adapter) Initialize(ctx context.Context) error {
	if _, err := a.sessionID(ctx); err != nil {
		return err
	}
	a.log.Info("session established")
	return nil
}

func (a *Adapter) sessionID(ctx context.Context) (string, error) {
	return a.sessions.Token(ctx, func(ctx context.Context, prev *session.Session) (*session.Session, error) {
		resp, err := a.send(ctx, "rkeeper.create_session", query{Cmd: command{
			CMD:      "CreateSession",
			Station:  a.stationID,
			Cashier:  a.cashierID,
			Password: a.password,
		}})
		if err != nil {
			return nil, err
		}
		if resp.SessionID == "" {
			return nil, &gw.ProviderError{Provider: ProviderName, Message: "no session id in CreateSession reply"}
		}
		return &session.Session{Token: resp.SessionID, ExpiresAt: time.Now().Add(sessionTTL)}, nil
	})
}

func (a *Adapter) FetchTransactions(ctx context.Context, start, end time.Time) ([]gw.Transaction, error) {
	resp, err := a.command(ctx, "rkeeper.get_checks", command{
		CMD:      "GetChecks",
		DateFrom: start.UTC().Format(time.RFC3339),
		DateTo:   end.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	transactions := make([]gw.Transaction, 0, len(resp.Checks))
	for i := range resp.Checks {
		transactions = append(transactions, *toTransaction(&resp.Checks[i]))
	}
	return transactions, nil
}

func (a *Adapter) ApplyDiscount(ctx context.Context, txID string, percentage float64, cardNumber string) (*gw.Transaction, error) {
	_, err := a.command(ctx, "rkeeper.apply_discount", command{
		CMD:             "ApplyDiscount",
		CheckID:         txID,
		DiscountPercent: fmt.Sprintf("%g", percentage),
		CardNumber:      cardNumber,
	})
	if err != nil {
		return nil, err
	}

	tx, err := a.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	tx.Discount = percentage
	tx.CardNumber = cardNumber
	return tx, nil
}

func (a *Adapter) GetTransaction(ctx context.Context, txID string) (*gw.Transaction, error) {
	resp, err := a.command(ctx, "rkeeper.get_check", command{CMD: "GetCheck", CheckID: txID})
	if err != nil {
		return nil, err
	}

	parsed := check{
		CheckID:     resp.CheckID,
		TableID:     resp.TableID,
		Status:      resp.Status,
		OpenTime:    resp.OpenTime,
		TotalSum:    resp.TotalSum,
		DiscountSum: resp.DiscountSum,
		ResultSum:   resp.ResultSum,
	}
	if parsed.CheckID == "" {
		return nil, &gw.ProviderError{Provider: ProviderName, Message: "check not found: " + txID}
	}
	return toTransaction(&parsed), nil
}

// RefundTransaction cancels the whole check. RK7 has no partial returns
// through this interface.
func (a *Adapter) RefundTransaction(ctx context.Context, txID string, amount *float64) (*gw.Transaction, error) {
	if amount != nil {
		return nil, fmt.Errorf("%s: partial refund: %w", ProviderName, gw.ErrUnsupported)
	}
	if _, err := a.command(ctx, "rkeeper.cancel_check", command{CMD: "CancelCheck", CheckID: txID}); err != nil {
		return nil, err
	}
	return a.GetTransaction(ctx, txID)
}

// VerifyWebhook checks the base64 HMAC-SHA256 signature.
func (a *Adapter) VerifyWebhook(payload []byte, signature string) bool {
	if a.webhookSecret == "" || signature == "" {
		return false
	}
	return sign.VerifyHMACSHA256(payload, a.webhookSecret, signature)
}

func (a *Adapter) HandleWebhook(ctx context.Context, event *gw.WebhookEvent) error {
	switch event.EventType {
	case "CheckCreated", "CheckClosed", "CheckCancelled":
		a.log.Info("check event applied", zap.String("event_type", event.EventType))
		return nil
	default:
		a.log.Info("unhandled event type ignored", zap.String("event_type", event.EventType))
		return nil
	}
}

func toTransaction(c *check) *gw.Transaction {
	opened, _ := time.Parse(time.RFC3339, c.OpenTime)
	var discount float64
	if c.TotalSum > 0 {
		discount = c.DiscountSum / c.TotalSum * 100
	}
	return &gw.Transaction{
		ID:             c.CheckID,
		Provider:       ProviderName,
		Amount:         c.TotalSum,
		Currency:       "BGN",
		Status:         mapStatus(c.Status),
		Discount:       discount,
		DiscountAmount: c.DiscountSum,
		Metadata: map[string]any{
			"table_id":        c.TableID,
			"provider_status": c.Status,
		},
		CreatedAt: opened,
		UpdatedAt: opened,
	}
}

func mapStatus(status string) gw.Status {
	switch status {
	case "OPEN":
		return gw.StatusPending
	case "CLOSED":
		return gw.StatusSucceeded
	case "CANCELLED":
		return gw.StatusFailed
	default:
		return gw.StatusPending
	}
}

// command attaches the session id and sends one RK7 command. A session the
// server no longer recognizes is invalidated so the next call logs in again.
func (a *Adapter) command(ctx context.Context, operation string, cmd command) (*response, error) {
	sessionID, err := a.sessionID(ctx)
	if err != nil {
		return nil, err
	}
	cmd.SessionID = sessionID

	resp, err := a.send(ctx, operation, query{Cmd: cmd})
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(resp.Status, "SessionExpired") {
		a.sessions.Invalidate()
		return nil, &gw.ProviderError{Provider: ProviderName, Code: "session_expired", Message: "session rejected by server"}
	}
	if resp.ErrorText != "" {
		return nil, &gw.ProviderError{Provider: ProviderName, Message: resp.ErrorText}
	}
	return resp, nil
}

func (a *Adapter) send(ctx context.Context, operation string, q query) (*response, error) {
	payload, err := xml.Marshal(q)
	if err != nil {
		return nil, err
	}
	payload = append([]byte(xml.Header), payload...)

	raw, err := a.http.XML(ctx, operation, a.baseURL+interfacePath, payload)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := xml.Unmarshal(raw.Body, &resp); err != nil {
		return nil, &gw.TransportError{Provider: ProviderName, Operation: operation, Err: err}
	}
	return &resp, nil
}
