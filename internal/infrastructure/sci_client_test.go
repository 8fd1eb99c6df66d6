package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanvgus/prueba-syc/internal/entities"
)

const (
	debtOK = `{"informacionDepartamental":[{"placa":"HHO137","vigencia":2025,"muniMatr":"MEDELLIN",
		"deptoMatr":"ANTIOQUIA","sancion":"0","interes":"12500","total":"162500",
		"fechaLim":"2025-06-30T00:00:00","declaracion":9001}],"response":{"errors":0}}`
	txOK = `{"transactionId":40037,"paymentReference":"PR-40037",
		"url":"https://pagos.example.com/pay/40037","response":{"errors":0,"description":"OK"}}`
)

// fakeSCI emulates the SCI TOTAL endpoints.
type fakeSCI struct {
	t *testing.T

	authCalls int32
	debtCalls int32
	txCalls   int32

	authBody     string
	debtBody     string
	debtStatus   int
	txBody       string
	txStatus     int
	rejectTokens int32 // debt calls answering 401 before accepting
	txDelay      time.Duration

	numberTokens  bool          // issue tok-1, tok-2, ...
	rejectBearer  string        // debt calls with this token answer 401
	rejectStagger time.Duration // the n-th such rejection waits n-1 staggers
	rejected      int32

	mu       sync.Mutex
	lastDebt map[string]interface{}
	lastTx   map[string]interface{}
	lastAuth string
}

func newFakeSCI(t *testing.T) *fakeSCI {
	return &fakeSCI{
		t:        t,
		authBody: `{"token":"tok","expiresIn":3600,"response":{"errorCount":0}}`,
		debtBody: debtOK,
		txBody:   txOK,
	}
}

func (f *fakeSCI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/Autenticacion":
		n := atomic.AddInt32(&f.authCalls, 1)
		assert.NoError(f.t, r.ParseForm())
		assert.Equal(f.t, "user", r.PostForm.Get("Username"))
		assert.Equal(f.t, "pass", r.PostForm.Get("Password"))
		if f.numberTokens {
			_, _ = fmt.Fprintf(w, `{"token":"tok-%d","expiresIn":3600,"response":{"errorCount":0}}`, n)
			return
		}
		_, _ = io.WriteString(w, f.authBody)

	case "/TotalApp/DeudaPlaca/127":
		atomic.AddInt32(&f.debtCalls, 1)
		var body map[string]interface{}
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.lastAuth = r.Header.Get("Authorization")
		f.lastDebt = body
		f.mu.Unlock()
		if f.rejectBearer != "" && r.Header.Get("Authorization") == "Bearer "+f.rejectBearer {
			n := atomic.AddInt32(&f.rejected, 1)
			time.Sleep(time.Duration(n-1) * f.rejectStagger)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if atomic.AddInt32(&f.rejectTokens, -1) >= 0 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.debtStatus != 0 {
			w.WriteHeader(f.debtStatus)
		}
		_, _ = io.WriteString(w, f.debtBody)

	case "/TotalApp/CrearTransaccion":
		atomic.AddInt32(&f.txCalls, 1)
		var body map[string]interface{}
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.lastTx = body
		f.mu.Unlock()
		if f.txDelay > 0 {
			time.Sleep(f.txDelay)
		}
		if f.txStatus != 0 {
			w.WriteHeader(f.txStatus)
		}
		_, _ = io.WriteString(w, f.txBody)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeSCI) counts() (auth, debt, tx int32) {
	return atomic.LoadInt32(&f.authCalls), atomic.LoadInt32(&f.debtCalls), atomic.LoadInt32(&f.txCalls)
}

func (f *fakeSCI) requests() (auth string, debt, tx map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth, f.lastDebt, f.lastTx
}

func newTestSCIClient(t *testing.T, f *fakeSCI, opts ...SCIOption) *SCIClient {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	auth, err := NewSCIAuthenticator(srv.URL, "user", "pass", time.Minute, time.Second)
	require.NoError(t, err)
	cache, err := NewTokenCache(auth, time.Second)
	require.NoError(t, err)
	client, err := NewSCIClient(srv.URL+"/", cache, opts...)
	require.NoError(t, err)
	return client
}

func TestNewSCIClient_Validates(t *testing.T) {
	_, err := NewSCIClient("", &TokenCache{})
	require.Error(t, err)
	_, err = NewSCIClient("http://sci", nil)
	require.Error(t, err)
	_, err = NewSCIAuthenticator("http://sci", "", "", 0, 0)
	require.Error(t, err)
}

func TestCreateTransaction_Success(t *testing.T) {
	f := newFakeSCI(t)
	client := newTestSCIClient(t, f, WithSCIAccount("", "", "910", "pagos@syc.test"))

	res, err := client.CreateTransaction(context.Background(), entities.PlateQuery{Plate: "HHO137"})
	require.NoError(t, err)

	require.Equal(t, "40037", res.TransactionID)
	require.Equal(t, "PR-40037", res.PaymentReference)
	require.Equal(t, "https://pagos.example.com/pay/40037", res.PaymentURL)
	require.Equal(t, "OK", res.Description)
	require.True(t, res.Success)
	require.Equal(t, "HHO137", res.Debt.Plate)
	require.Equal(t, entities.Amount(162500), res.Debt.Total)
	require.Equal(t, entities.FlexString("9001"), res.Debt.Declaration)

	bearer, debtReq, txReq := f.requests()
	require.Equal(t, "Bearer tok", bearer)
	require.Equal(t, map[string]interface{}{"idCliente": "1", "placa": "HHO137"}, debtReq)

	require.Equal(t, "162500", txReq["valorTotal"])
	require.Equal(t, "0", txReq["iva"])
	require.Equal(t, "127", txReq["idParametro"])
	require.Equal(t, "910", txReq["idCliente"])
	require.Equal(t, "pagos@syc.test", txReq["email"])
	dispersion := txReq["dispersion"].([]interface{})
	require.Len(t, dispersion, 1)
	first := dispersion[0].(map[string]interface{})
	require.Equal(t, "RECAUDO_IUVA", first["palabraClave"])
	require.Equal(t, "9001", first["referencia"])
	require.Equal(t, "162500", first["valor"])
	require.Contains(t, first["descripcion"], "PLACA: HHO137 VIGENCIA: 2025")

	authCalls, _, _ := f.counts()
	require.EqualValues(t, 1, authCalls)
}

func TestCreateTransaction_ReusesToken(t *testing.T) {
	f := newFakeSCI(t)
	client := newTestSCIClient(t, f)

	for i := 0; i < 3; i++ {
		_, err := client.CreateTransaction(context.Background(), entities.PlateQuery{Plate: "HHO137"})
		require.NoError(t, err)
	}
	authCalls, _, _ := f.counts()
	require.EqualValues(t, 1, authCalls)
}

func TestCreateTransaction_AuthRejectedOnceRetries(t *testing.T) {
	f := newFakeSCI(t)
	f.rejectTokens = 1
	client := newTestSCIClient(t, f)

	res, err := client.CreateTransaction(context.Background(), entities.PlateQuery{Plate: "HHO137"})
	require.NoError(t, err)
	require.Equal(t, "40037", res.TransactionID)
	authCalls, debtCalls, _ := f.counts()
	require.EqualValues(t, 2, authCalls)
	require.EqualValues(t, 2, debtCalls)
}

func TestCreateTransaction_ConcurrentRejectionsRefreshOnce(t *testing.T) {
	f := newFakeSCI(t)
	f.numberTokens = true
	f.rejectBearer = "tok-1"
	f.rejectStagger = 100 * time.Millisecond
	client := newTestSCIClient(t, f)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.CreateTransaction(context.Background(), entities.PlateQuery{Plate: "HHO137"})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	authCalls, _, txCalls := f.counts()
	require.EqualValues(t, 2, authCalls)
	require.EqualValues(t, 2, txCalls)
}

func TestCreateTransaction_AuthRejectedTwiceFails(t *testing.T) {
	f := newFakeSCI(t)
	f.rejectTokens = 5
	client := newTestSCIClient(t, f)

	_, err := client.CreateTransaction(context.Background(), entities.PlateQuery{Plate: "HHO137"})
	require.Equal(t, entities.KindAuthFailed, entities.KindOf(err))
	authCalls, debtCalls, txCalls := f.counts()
	require.EqualValues(t, 2, authCalls)
	require.EqualValues(t, 2, debtCalls)
	require.Zero(t, txCalls)
}

func TestCreateTransaction_AuthEndpointRejects(t *testing.T) {
	f := newFakeSCI(t)
	f.authBody = `{"token":"","response":{"errorCount":1,"description":"bad credentials"}}`
	client := newTestSCIClient(t, f)

	_, err := client.CreateTransaction(context.Background(), entities.PlateQuery{Plate: "HHO137"})
	require.Equal(t, entities.KindAuthFailed, entities.KindOf(err))
	_, debtCalls, _ := f.counts()
	require.Zero(t, debtCalls)
}

func TestCreateTransaction_ErrorClassification(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fakeSCI)
		want  entities.ErrorKind
	}{
		{"tx errors greater than zero", func(f *fakeSCI) {
			f.txBody = `{"transactionId":"1","url":"https://x","response":{"errors":1,"description":"invalid"}}`
		}, entities.KindRejected},
		{"tx errors as list", func(f *fakeSCI) {
			f.txBody = `{"transactionId":"1","url":"https://x","response":{"errors":["invalid amount"]}}`
		}, entities.KindRejected},
		{"debt error count", func(f *fakeSCI) {
			f.debtBody = `{"informacionDepartamental":[],"response":{"errorCount":"2"}}`
		}, entities.KindRejected},
		{"tx http 500", func(f *fakeSCI) {
			f.txStatus = http.StatusInternalServerError
		}, entities.KindRejected},
		{"debt http 400", func(f *fakeSCI) {
			f.debtStatus = http.StatusBadRequest
		}, entities.KindRejected},
		{"missing url", func(f *fakeSCI) {
			f.txBody = `{"transactionId":"40037","response":{"errors":0}}`
		}, entities.KindMalformedResponse},
		{"missing transaction id", func(f *fakeSCI) {
			f.txBody = `{"url":"https://x","response":{"errors":0}}`
		}, entities.KindMalformedResponse},
		{"undecodable body", func(f *fakeSCI) {
			f.txBody = `<html>oops</html>`
		}, entities.KindMalformedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeSCI(t)
			tc.setup(f)
			client := newTestSCIClient(t, f)

			_, err := client.CreateTransaction(context.Background(), entities.PlateQuery{Plate: "HHO137"})
			require.Error(t, err)
			require.Equal(t, tc.want, entities.KindOf(err), "err=%v", err)
			authCalls, _, _ := f.counts()
			require.EqualValues(t, 1, authCalls)
		})
	}
}

func TestCreateTransaction_NoDebt(t *testing.T) {
	f := newFakeSCI(t)
	f.debtBody = `{"informacionDepartamental":[],"response":{"errors":0}}`
	client := newTestSCIClient(t, f)

	_, err := client.CreateTransaction(context.Background(), entities.PlateQuery{Plate: "HHO137"})
	require.ErrorIs(t, err, entities.ErrNoDebt)
	_, _, txCalls := f.counts()
	require.Zero(t, txCalls)
}

func TestCreateTransaction_Timeout(t *testing.T) {
	f := newFakeSCI(t)
	f.txDelay = 300 * time.Millisecond
	client := newTestSCIClient(t, f, WithSCITimeout(50*time.Millisecond))

	start := time.Now()
	_, err := client.CreateTransaction(context.Background(), entities.PlateQuery{Plate: "HHO137"})
	require.Equal(t, entities.KindTimeout, entities.KindOf(err), "err=%v", err)
	require.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestSCIAuthenticator_ExpirySources(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(2 * time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).
		SignedString([]byte("provider-secret"))
	require.NoError(t, err)

	cases := []struct {
		name string
		body string
		want time.Time
	}{
		{"expiresIn wins", `{"token":"` + signed + `","expiresIn":"600","response":{"errorCount":0}}`, now.Add(10 * time.Minute)},
		{"jwt exp claim", `{"token":"` + signed + `","response":{"errorCount":0}}`, exp},
		{"configured ttl", `{"token":"opaque","response":{"errorCount":0}}`, now.Add(45 * time.Minute)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			auth, err := NewSCIAuthenticator(srv.URL, "user", "pass", 45*time.Minute, time.Second)
			require.NoError(t, err)
			auth.now = func() time.Time { return now }

			tok, err := auth.Authenticate(context.Background())
			require.NoError(t, err)
			require.True(t, tc.want.Equal(tok.ExpiresAt), "want %v got %v", tc.want, tok.ExpiresAt)
		})
	}
}

func TestErrorCount_Unmarshal(t *testing.T) {
	cases := map[string]errorCount{
		`0`:         0,
		`3`:         3,
		`"2"`:       2,
		`null`:      0,
		`[]`:        0,
		`["a","b"]`: 2,
		`[{"x":1}]`: 1,
	}
	for in, want := range cases {
		var c errorCount
		require.NoError(t, json.Unmarshal([]byte(in), &c), "in=%s", in)
		require.Equal(t, want, c, "in=%s", in)
	}
}
