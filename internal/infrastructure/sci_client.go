package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/juanvgus/prueba-syc/internal/entities"
)

const (
	defaultSCITimeout   = 30 * time.Second
	defaultSCITokenTTL  = 30 * time.Minute
	defaultSCIParamID   = "127"
	defaultSCIClientID  = "1"
	defaultSCITxClient  = "910"
	defaultSCIPayerMail = "pagos@example.com"
)

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func isUnauthorized(err error) bool {
	var se *HTTPStatusError
	return errors.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// errorCount reads "errors"/"errorCount", which the API sends as a number,
// a numeric string or a list of messages.
type errorCount int

func (c *errorCount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || string(data) == "null":
		*c = 0
	case data[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*c = errorCount(len(items))
	default:
		var n entities.Amount
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*c = errorCount(int(n))
	}
	return nil
}

type sciStatus struct {
	ErrorCount  errorCount `json:"errorCount"`
	Errors      errorCount `json:"errors"`
	Description string     `json:"description"`
	Message     string     `json:"message"`
}

func (s sciStatus) failed() bool {
	return s.ErrorCount > 0 || s.Errors > 0
}

func (s sciStatus) text() string {
	if s.Description != "" {
		return s.Description
	}
	return s.Message
}

type sciAuthResponse struct {
	Token     string          `json:"token"`
	ExpiresIn entities.Amount `json:"expiresIn"`
	Response  sciStatus       `json:"response"`
}

type sciDebtRequest struct {
	IDCliente string `json:"idCliente"`
	Placa     string `json:"placa"`
}

type sciDebtResponse struct {
	Items    []entities.DebtItem `json:"informacionDepartamental"`
	Response sciStatus           `json:"response"`
}

type sciDispersion struct {
	PalabraClave string `json:"palabraClave"`
	Referencia   string `json:"referencia"`
	Valor        string `json:"valor"`
	Impuesto     string `json:"impuesto"`
	Descripcion  string `json:"descripcion"`
	Liquidacion  string `json:"liquidacion"`
	EntityCode   string `json:"entityCode"`
	ServiceCode  string `json:"serviceCode"`
}

type sciTransactionRequest struct {
	Email           string          `json:"email"`
	ValorTotal      string          `json:"valorTotal"`
	IVA             string          `json:"iva"`
	DescripcionPago string          `json:"descripcionPago"`
	IDParametro     string          `json:"idParametro"`
	IDCliente       string          `json:"idCliente"`
	Dispersion      []sciDispersion `json:"dispersion"`
}

type sciTransactionResponse struct {
	TransactionID    entities.FlexString `json:"transactionId"`
	PaymentReference entities.FlexString `json:"paymentReference"`
	URL              string              `json:"url"`
	Response         sciStatus           `json:"response"`
}

// SCIAuthenticator calls POST /Autenticacion.
type SCIAuthenticator struct {
	baseURL    string
	username   string
	password   string
	tokenTTL   time.Duration
	httpClient *http.Client
	now        func() time.Time
}

func NewSCIAuthenticator(baseURL, username, password string, tokenTTL, timeout time.Duration) (*SCIAuthenticator, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("sci: base url must not be empty")
	}
	if username == "" || password == "" {
		return nil, errors.New("sci: credentials must not be empty")
	}
	if tokenTTL <= 0 {
		tokenTTL = defaultSCITokenTTL
	}
	if timeout <= 0 {
		timeout = defaultSCITimeout
	}
	return &SCIAuthenticator{
		baseURL:    baseURL,
		username:   username,
		password:   password,
		tokenTTL:   tokenTTL,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}, nil
}

func (a *SCIAuthenticator) Authenticate(ctx context.Context) (entities.AuthToken, error) {
	endpoint := a.baseURL + "/Autenticacion"
	form := url.Values{"Username": {a.username}, "Password": {a.password}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return entities.AuthToken{}, fmt.Errorf("sci: create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var body sciAuthResponse
	if err := doJSON(a.httpClient, req, &body); err != nil {
		if isTimeout(err) {
			return entities.AuthToken{}, entities.NewExternalError(entities.KindTimeout, "authentication timed out", err)
		}
		return entities.AuthToken{}, entities.NewExternalError(entities.KindAuthFailed, "authentication request failed", err)
	}
	if body.Response.failed() || body.Token == "" {
		return entities.AuthToken{}, entities.NewExternalError(entities.KindAuthFailed, "authentication rejected: "+body.Response.text(), nil)
	}

	return entities.AuthToken{Value: body.Token, ExpiresAt: a.expiry(body)}, nil
}

// expiry prefers the explicit validity window, then the JWT exp claim, then
// the configured TTL.
func (a *SCIAuthenticator) expiry(body sciAuthResponse) time.Time {
	now := a.now()
	if body.ExpiresIn > 0 {
		return now.Add(time.Duration(float64(body.ExpiresIn) * float64(time.Second)))
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(body.Token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return now.Add(a.tokenTTL)
}

// TokenSource is the view of the token cache used by SCIClient.
type TokenSource interface {
	GetValid(ctx context.Context) (entities.AuthToken, error)
	Invalidate(rejected string)
}

// SCIClient queries debt by plate and creates the payment transaction.
type SCIClient struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	timeout    time.Duration
	paramID    string
	clientID   string
	txClientID string
	payerEmail string
}

type SCIOption func(*SCIClient)

func WithSCIHTTPClient(httpClient *http.Client) SCIOption {
	return func(c *SCIClient) {
		c.httpClient = httpClient
	}
}

func WithSCITimeout(timeout time.Duration) SCIOption {
	return func(c *SCIClient) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithSCIAccount sets the parameter id, the client id used for the debt
// query, the client id used for transactions and the payer email.
func WithSCIAccount(paramID, clientID, txClientID, payerEmail string) SCIOption {
	return func(c *SCIClient) {
		if paramID != "" {
			c.paramID = paramID
		}
		if clientID != "" {
			c.clientID = clientID
		}
		if txClientID != "" {
			c.txClientID = txClientID
		}
		if payerEmail != "" {
			c.payerEmail = payerEmail
		}
	}
}

func NewSCIClient(baseURL string, tokens TokenSource, opts ...SCIOption) (*SCIClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("sci: base url must not be empty")
	}
	if tokens == nil {
		return nil, errors.New("sci: token source must not be nil")
	}
	c := &SCIClient{
		baseURL:    baseURL,
		tokens:     tokens,
		timeout:    defaultSCITimeout,
		paramID:    defaultSCIParamID,
		clientID:   defaultSCIClientID,
		txClientID: defaultSCITxClient,
		payerEmail: defaultSCIPayerMail,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

// CreateTransaction fetches the debt of the plate and opens a payment
// transaction for the first debt item.
func (c *SCIClient) CreateTransaction(ctx context.Context, q entities.PlateQuery) (entities.TransactionResult, error) {
	var debt sciDebtResponse
	err := c.authorized(ctx, "debt query", func(ctx context.Context, token string) error {
		return c.postJSON(ctx, token, fmt.Sprintf("%s/TotalApp/DeudaPlaca/%s", c.baseURL, c.paramID),
			sciDebtRequest{IDCliente: c.clientID, Placa: q.Plate}, &debt)
	})
	if err != nil {
		return entities.TransactionResult{}, err
	}
	if debt.Response.failed() {
		return entities.TransactionResult{}, entities.NewExternalError(entities.KindRejected, "debt query: "+debt.Response.text(), nil)
	}
	if len(debt.Items) == 0 {
		return entities.TransactionResult{}, fmt.Errorf("sci: plate %s: %w", q.Plate, entities.ErrNoDebt)
	}
	item := debt.Items[0]
	if item.Plate == "" {
		item.Plate = q.Plate
	}

	var tx sciTransactionResponse
	err = c.authorized(ctx, "create transaction", func(ctx context.Context, token string) error {
		return c.postJSON(ctx, token, c.baseURL+"/TotalApp/CrearTransaccion", c.transactionRequest(item), &tx)
	})
	if err != nil {
		return entities.TransactionResult{}, err
	}
	if tx.Response.failed() {
		return entities.TransactionResult{}, entities.NewExternalError(entities.KindRejected, "create transaction: "+tx.Response.text(), nil)
	}
	if tx.TransactionID == "" || tx.URL == "" {
		return entities.TransactionResult{}, entities.NewExternalError(entities.KindMalformedResponse, "create transaction: missing transactionId or url", nil)
	}

	return entities.TransactionResult{
		TransactionID:    string(tx.TransactionID),
		PaymentReference: string(tx.PaymentReference),
		PaymentURL:       tx.URL,
		Description:      tx.Response.text(),
		Success:          true,
		Debt:             item,
	}, nil
}

func (c *SCIClient) transactionRequest(item entities.DebtItem) sciTransactionRequest {
	total := item.Total.String()
	return sciTransactionRequest{
		Email:           c.payerEmail,
		ValorTotal:      total,
		IVA:             "0",
		DescripcionPago: "Pago de trámites desde plataforma TOTAL",
		IDParametro:     c.paramID,
		IDCliente:       c.txClientID,
		Dispersion: []sciDispersion{{
			PalabraClave: "RECAUDO_IUVA",
			Referencia:   string(item.Declaration),
			Valor:        total,
			Impuesto:     "0",
			Descripcion: fmt.Sprintf("NOTIFICACION IUVA GENERADO DE TOTAL. EL MONTO INCLUYE EL VALOR DE LA "+
				"SISTEMATIZACIÓN (PLACA: %s VIGENCIA: %s)", item.Plate, item.Vigencia),
		}},
	}
}

// authorized runs call with a valid token. An auth rejection forces one
// refresh and exactly one retry.
func (c *SCIClient) authorized(ctx context.Context, op string, call func(ctx context.Context, token string) error) error {
	tok, err := c.tokens.GetValid(ctx)
	if err != nil {
		return tokenError(op, err)
	}
	err = call(ctx, tok.Value)
	if isUnauthorized(err) {
		c.tokens.Invalidate(tok.Value)
		tok, err = c.tokens.GetValid(ctx)
		if err != nil {
			return tokenError(op, err)
		}
		err = call(ctx, tok.Value)
		if isUnauthorized(err) {
			return entities.NewExternalError(entities.KindAuthFailed, op+": token rejected after refresh", err)
		}
	}
	if err != nil {
		return classify(op, err)
	}
	return nil
}

func tokenError(op string, err error) error {
	var ext *entities.ExternalServiceError
	if errors.As(err, &ext) {
		return err
	}
	if isTimeout(err) {
		return entities.NewExternalError(entities.KindTimeout, op+": token refresh timed out", err)
	}
	return entities.NewExternalError(entities.KindAuthFailed, op+": token refresh failed", err)
}

var errDecode = errors.New("decode response")

func classify(op string, err error) error {
	switch {
	case isTimeout(err):
		return entities.NewExternalError(entities.KindTimeout, op, err)
	case errors.Is(err, errDecode):
		return entities.NewExternalError(entities.KindMalformedResponse, op, err)
	default:
		return entities.NewExternalError(entities.KindRejected, op, err)
	}
}

func (c *SCIClient) postJSON(ctx context.Context, token, endpoint string, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("sci: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sci: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return doJSON(c.httpClient, req, out)
}

func doJSON(httpClient *http.Client, req *http.Request, out interface{}) error {
	res, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        req.URL.String(),
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("%w: %v", errDecode, err)
	}
	return nil
}
