package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/guestid/internal/domain"
	"github.com/kailas-cloud/guestid/internal/domain/doctype"
	"github.com/kailas-cloud/guestid/internal/domain/extraction"
	"github.com/kailas-cloud/guestid/internal/usecase/confidence"
	"github.com/kailas-cloud/guestid/internal/usecase/detect"
	"github.com/kailas-cloud/guestid/internal/usecase/parse"
	"github.com/kailas-cloud/guestid/internal/usecase/retry"
)

// --- Mocks ---

type reply struct {
	text string
	err  error
}

// scriptedModel answers by pass label; the last scripted reply repeats.
type scriptedModel struct {
	mu         sync.Mutex
	configured bool
	script     map[string][]reply
	calls      map[string]int
	prompts    map[string]string
}

func newModel() *scriptedModel {
	return &scriptedModel{
		configured: true,
		script:     map[string][]reply{},
		calls:      map[string]int{},
		prompts:    map[string]string{},
	}
}

func (m *scriptedModel) on(pass extraction.Pass, replies ...reply) *scriptedModel {
	m.script[string(pass)] = replies
	return m
}

func (m *scriptedModel) Complete(_ context.Context, req domain.VisionRequest) (domain.VisionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.calls[req.Pass]
	m.calls[req.Pass] = n + 1
	m.prompts[req.Pass] = req.Prompt

	replies := m.script[req.Pass]
	if len(replies) == 0 {
		return domain.VisionResponse{}, fmt.Errorf("unscripted pass %q", req.Pass)
	}
	if n >= len(replies) {
		n = len(replies) - 1
	}
	r := replies[n]
	return domain.VisionResponse{Text: r.text}, r.err
}

func (m *scriptedModel) Configured() bool { return m.configured }

func (m *scriptedModel) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *scriptedModel) count(pass extraction.Pass) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[string(pass)]
}

type countingAdmitter struct {
	mu    sync.Mutex
	limit int
	calls int
}

func (a *countingAdmitter) TryAdmit(context.Context, string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.limit < 0 || a.calls <= a.limit
}

type stubPrompts struct{}

func (stubPrompts) Has(dt doctype.Type) bool { return dt != doctype.Other }

func (stubPrompts) Extraction(dt doctype.Type) string { return "extract " + string(dt) }

func (stubPrompts) Refinement(_ doctype.Type, _ extraction.Fields, names []string) string {
	return "refine " + strings.Join(names, ",")
}

func (stubPrompts) Handwriting() string { return "handwriting" }

type stubDetector struct {
	det   detect.Detection
	calls int
}

func (d *stubDetector) Detect(context.Context, domain.Image, string) detect.Detection {
	d.calls++
	return d.det
}

type fixture struct {
	model    *scriptedModel
	admitter *countingAdmitter
	svc      *Service
}

func newFixture(model *scriptedModel) *fixture {
	adm := &countingAdmitter{limit: -1}
	inv := retry.New(retry.DefaultPolicy(), zap.NewNop()).WithSleeper(func(time.Duration) {})
	parser := parse.New(confidence.New(confidence.DefaultThresholds()))
	svc := New(model, adm, inv, parser, stubPrompts{}, zap.NewNop()).
		WithIDGenerator(func() string { return "run-1" })
	return &fixture{model: model, admitter: adm, svc: svc}
}

func request(dt doctype.Type) Request {
	return Request{Image: domain.Image{Data: []byte("jpeg"), MIMEType: "image/jpeg"}, DocumentType: dt, OrganizationID: "org-1"}
}

const aadhaarClear = `{
	"aadhaarNumber": {"value": "1234 5678 9012", "confidence": 98},
	"fullName": {"value": "Rahul Sharma", "confidence": 96},
	"dateOfBirth": {"value": "1990-10-19", "confidence": 97},
	"gender": {"value": "Male", "confidence": 99}
}`

const stamps = `{"officialStamps": {"value": "UIDAI seal", "confidence": 80}}`

// --- Tests ---

func TestExtract_ClearNationalID(t *testing.T) {
	f := newFixture(newModel().
		on(extraction.PassStandard, reply{text: "```json\n" + aadhaarClear + "\n```"}).
		on(extraction.PassHandwriting, reply{text: stamps}))

	res := f.svc.Extract(context.Background(), request(doctype.AadhaarFront))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "run-1", res.ID)
	assert.Equal(t, doctype.AadhaarFront, res.DocumentType)
	require.Contains(t, res.Fields, "aadhaarNumber")
	assert.False(t, res.Fields["aadhaarNumber"].NeedsVerification)
	assert.Contains(t, res.Fields, "officialStamps")
	assert.GreaterOrEqual(t, res.OverallConfidence, 85)
	assert.Empty(t, res.Error)

	assert.Equal(t, 0, f.model.count(extraction.PassRefinement), "no field below 95")
	require.Len(t, res.Passes, 3)
	assert.Equal(t, extraction.PassSkipped, res.Passes[1].Status)
	assert.Equal(t, []string{"officialStamps"}, res.Passes[2].Fields)
}

func TestExtract_CredentialsUnset(t *testing.T) {
	m := newModel()
	m.configured = false
	f := newFixture(m)

	res := f.svc.Extract(context.Background(), request(doctype.Passport))

	assert.False(t, res.Success)
	assert.NotNil(t, res.Fields)
	assert.Empty(t, res.Fields)
	assert.Contains(t, res.Error, "configuration")
	assert.Equal(t, 0, f.model.total())
	assert.Equal(t, 0, f.admitter.calls)
}

func TestExtract_NilModel(t *testing.T) {
	inv := retry.New(retry.DefaultPolicy(), zap.NewNop())
	svc := New(nil, &countingAdmitter{limit: -1}, inv, nil, stubPrompts{}, zap.NewNop())

	res := svc.Extract(context.Background(), request(doctype.Passport))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "configuration")
}

func TestExtract_AdmissionRejectedOnPassOne(t *testing.T) {
	f := newFixture(newModel().on(extraction.PassStandard, reply{text: aadhaarClear}))
	f.admitter.limit = 0

	res := f.svc.Extract(context.Background(), request(doctype.AadhaarFront))

	assert.False(t, res.Success)
	assert.Empty(t, res.Fields)
	assert.Contains(t, res.Error, "try again in a minute")
	assert.Equal(t, 0, f.model.total())
}

func TestExtract_PassOneParseFailureStopsRun(t *testing.T) {
	f := newFixture(newModel().
		on(extraction.PassStandard, reply{text: "I'm unable to read this image"}).
		on(extraction.PassHandwriting, reply{text: stamps}))

	res := f.svc.Extract(context.Background(), request(doctype.Passport))

	assert.False(t, res.Success)
	assert.Empty(t, res.Fields)
	assert.Contains(t, res.Error, "parse")
	assert.Equal(t, 1, f.model.total(), "parse failures are not retried and passes 2-3 never run")
	require.Len(t, res.Passes, 1)
	assert.Equal(t, extraction.PassFailed, res.Passes[0].Status)
}

func TestExtract_AuthenticationFailureSingleAttempt(t *testing.T) {
	f := newFixture(newModel().
		on(extraction.PassStandard, reply{err: domain.NewModelError(401, "invalid key")}))

	res := f.svc.Extract(context.Background(), request(doctype.Passport))

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "authentication")
	assert.Equal(t, 1, f.model.count(extraction.PassStandard))
	assert.Equal(t, 1, res.Passes[0].Attempts)
}

func TestExtract_TransientRetriedThenSucceeds(t *testing.T) {
	f := newFixture(newModel().
		on(extraction.PassStandard,
			reply{err: domain.NewModelError(503, "busy")},
			reply{text: aadhaarClear}).
		on(extraction.PassHandwriting, reply{text: `{}`}))

	res := f.svc.Extract(context.Background(), request(doctype.AadhaarFront))

	require.True(t, res.Success)
	assert.Equal(t, 2, f.model.count(extraction.PassStandard))
	assert.Equal(t, 2, res.Passes[0].Attempts)
}

func TestExtract_RefinementMergePrecedence(t *testing.T) {
	pass1 := `{
		"passportNumber": {"value": "KF025OO87", "confidence": 60},
		"surname": {"value": "TAMN", "confidence": 60},
		"nationality": {"value": "EST", "confidence": 99}
	}`
	pass2 := `{
		"passportNumber": {"value": "KF0250087", "confidence": 80},
		"surname": {"value": "TAMM", "confidence": 55},
		"nationality": {"value": "ESTONIA", "confidence": 100}
	}`
	f := newFixture(newModel().
		on(extraction.PassStandard, reply{text: pass1}).
		on(extraction.PassRefinement, reply{text: pass2}).
		on(extraction.PassHandwriting, reply{text: `{}`}))

	res := f.svc.Extract(context.Background(), request(doctype.Passport))

	require.True(t, res.Success)
	assert.Equal(t, "KF0250087", res.Fields["passportNumber"].Value, "higher confidence overwrites")
	assert.Equal(t, 80, res.Fields["passportNumber"].Confidence)
	assert.Equal(t, "TAMN", res.Fields["surname"].Value, "lower confidence never overwrites")
	assert.Equal(t, "EST", res.Fields["nationality"].Value, "fields outside the refinement set are untouched")
	assert.Equal(t, "refine passportNumber,surname", f.model.prompts[string(extraction.PassRefinement)])
	assert.Equal(t, []string{"passportNumber"}, res.Passes[1].Fields)
	assert.Equal(t, extraction.OverallConfidence(res.Fields), res.OverallConfidence)
}

func TestExtract_RefinementFailureIsAbsorbed(t *testing.T) {
	pass1 := `{"fullName": {"value": "JOHN DOE", "confidence": 72}}`
	f := newFixture(newModel().
		on(extraction.PassStandard, reply{text: pass1}).
		on(extraction.PassRefinement, reply{text: "not json"}).
		on(extraction.PassHandwriting, reply{text: stamps}))

	res := f.svc.Extract(context.Background(), request(doctype.Passport))

	require.True(t, res.Success)
	assert.Equal(t, "JOHN DOE", res.Fields["fullName"].Value)
	assert.Equal(t, extraction.PassFailed, res.Passes[1].Status)
	assert.Contains(t, res.Fields, "officialStamps")
}

func TestExtract_HandwritingFailureKeepsEarlierFields(t *testing.T) {
	pass1 := `{
		"panNumber": {"value": "ABCDE1234F", "confidence": 90},
		"fullName": {"value": "PRIYA NAIR", "confidence": 97}
	}`
	pass2 := `{"panNumber": {"value": "ABCDE1234F", "confidence": 96}}`
	f := newFixture(newModel().
		on(extraction.PassStandard, reply{text: pass1}).
		on(extraction.PassRefinement, reply{text: pass2}).
		on(extraction.PassHandwriting, reply{err: domain.NewModelError(500, "boom")}))

	res := f.svc.Extract(context.Background(), request(doctype.PANCard))

	require.True(t, res.Success)
	require.Len(t, res.Fields, 2)
	assert.Equal(t, 96, res.Fields["panNumber"].Confidence)
	assert.Equal(t, "PRIYA NAIR", res.Fields["fullName"].Value)
	assert.Equal(t, extraction.PassFailed, res.Passes[2].Status)
	assert.Equal(t, 3, f.model.count(extraction.PassHandwriting), "transient errors are retried")
}

func TestExtract_HandwritingDoesNotOverwrite(t *testing.T) {
	f := newFixture(newModel().
		on(extraction.PassStandard, reply{text: aadhaarClear}).
		on(extraction.PassHandwriting, reply{text: `{"fullName": {"value": "scribble", "confidence": 99}}`}))

	res := f.svc.Extract(context.Background(), request(doctype.AadhaarFront))

	require.True(t, res.Success)
	assert.Equal(t, "Rahul Sharma", res.Fields["fullName"].Value)
	assert.Empty(t, res.Passes[2].Fields)
}

func TestExtract_AdmissionRejectedLaterIsAbsorbed(t *testing.T) {
	pass1 := `{"fullName": {"value": "JOHN DOE", "confidence": 72}}`
	f := newFixture(newModel().on(extraction.PassStandard, reply{text: pass1}))
	f.admitter.limit = 1

	res := f.svc.Extract(context.Background(), request(doctype.Passport))

	require.True(t, res.Success)
	assert.Equal(t, 72, res.OverallConfidence)
	assert.Equal(t, extraction.PassFailed, res.Passes[1].Status)
	assert.Equal(t, extraction.PassFailed, res.Passes[2].Status)
	assert.Equal(t, 1, f.model.total())
}

func TestExtract_DetectsUnknownType(t *testing.T) {
	f := newFixture(newModel().
		on(extraction.PassStandard, reply{text: aadhaarClear}).
		on(extraction.PassHandwriting, reply{text: `{}`}))
	det := &stubDetector{det: detect.Detection{DocumentType: doctype.AadhaarFront, Confidence: 91}}
	f.svc.WithDetector(det)

	res := f.svc.Extract(context.Background(), request(doctype.Unknown))

	require.True(t, res.Success)
	assert.Equal(t, 1, det.calls)
	assert.Equal(t, doctype.AadhaarFront, res.DocumentType)
	assert.Equal(t, "extract aadhaar_front", f.model.prompts[string(extraction.PassStandard)])
	assert.Equal(t, extraction.PassDetection, res.Passes[0].Pass)
	assert.Equal(t, extraction.PassOK, res.Passes[0].Status)
}

func TestExtract_DetectionPassStatus(t *testing.T) {
	tests := []struct {
		name    string
		det     detect.Detection
		status  extraction.PassStatus
		errText string
	}{
		{"model answered other", detect.Detection{DocumentType: doctype.Other}, extraction.PassOK, ""},
		{"fallback", detect.Detection{DocumentType: doctype.Other, Error: "model unavailable"},
			extraction.PassFailed, "model unavailable"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(newModel().
				on(extraction.PassStandard, reply{text: aadhaarClear}).
				on(extraction.PassHandwriting, reply{text: `{}`}))
			f.svc.WithDetector(&stubDetector{det: tc.det})

			res := f.svc.Extract(context.Background(), request(doctype.Unknown))

			require.True(t, res.Success, res.Error)
			assert.Equal(t, extraction.PassDetection, res.Passes[0].Pass)
			assert.Equal(t, tc.status, res.Passes[0].Status)
			assert.Equal(t, tc.errText, res.Passes[0].Error)
		})
	}
}

func TestExtract_DeclaredTypeSkipsDetection(t *testing.T) {
	f := newFixture(newModel().
		on(extraction.PassStandard, reply{text: aadhaarClear}).
		on(extraction.PassHandwriting, reply{text: `{}`}))
	det := &stubDetector{}
	f.svc.WithDetector(det)

	f.svc.Extract(context.Background(), request(doctype.AadhaarFront))
	assert.Equal(t, 0, det.calls)
}

func TestExtract_ParallelMatchesSequential(t *testing.T) {
	pass1 := `{
		"visaNumber": {"value": "900F3927P", "confidence": 70},
		"fullName": {"value": "JANE ROE", "confidence": 96}
	}`
	pass2 := `{"visaNumber": {"value": "900F3927P", "confidence": 93}}`
	hand := `{"officialStamps": {"value": "entry stamp DEL", "confidence": 75}}`

	build := func(parallel bool) extraction.Result {
		f := newFixture(newModel().
			on(extraction.PassStandard, reply{text: pass1}).
			on(extraction.PassRefinement, reply{text: pass2}).
			on(extraction.PassHandwriting, reply{text: hand}))
		f.svc.WithOptions(Options{ParallelEnrichment: parallel})
		return f.svc.Extract(context.Background(), request(doctype.Visa))
	}

	seq, par := build(false), build(true)
	require.True(t, par.Success)
	assert.Equal(t, seq.Fields, par.Fields)
	assert.Equal(t, seq.OverallConfidence, par.OverallConfidence)
	assert.False(t, par.Fields["visaNumber"].NeedsVerification)
}

func TestExtract_ProcessingTime(t *testing.T) {
	f := newFixture(newModel().
		on(extraction.PassStandard, reply{text: aadhaarClear}).
		on(extraction.PassHandwriting, reply{text: `{}`}))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ticks int
	f.svc.WithClock(func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * 1500 * time.Millisecond)
	})

	res := f.svc.Extract(context.Background(), request(doctype.AadhaarFront))
	assert.Equal(t, int64(1500), res.ProcessingTimeMs)
}

func TestWithOptions_RefinementTarget(t *testing.T) {
	pass1 := `{"fullName": {"value": "JOHN DOE", "confidence": 90}}`
	f := newFixture(newModel().
		on(extraction.PassStandard, reply{text: pass1}).
		on(extraction.PassHandwriting, reply{text: `{}`}))
	f.svc.WithOptions(Options{RefinementTarget: 80})

	res := f.svc.Extract(context.Background(), request(doctype.Passport))
	require.True(t, res.Success)
	assert.Equal(t, 0, f.model.count(extraction.PassRefinement))
}

func TestExtract_LogsGenericTemplateFallback(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	model := newModel().
		on(extraction.PassStandard, reply{text: `{"documentNumber": {"value": "X1", "confidence": 98}}`}).
		on(extraction.PassHandwriting, reply{text: `{}`})
	inv := retry.New(retry.DefaultPolicy(), zap.NewNop()).WithSleeper(func(time.Duration) {})
	parser := parse.New(confidence.New(confidence.DefaultThresholds()))
	svc := New(model, &countingAdmitter{limit: -1}, inv, parser, stubPrompts{}, zap.New(core))

	res := svc.Extract(context.Background(), request(doctype.Other))
	require.True(t, res.Success, res.Error)
	fallback := logs.FilterMessage("No dedicated template, using generic prompt")
	require.Equal(t, 1, fallback.Len())
	assert.Equal(t, "other", fallback.All()[0].ContextMap()["document_type"])

	logs.TakeAll()
	res = svc.Extract(context.Background(), request(doctype.Passport))
	require.True(t, res.Success, res.Error)
	assert.Zero(t, logs.FilterMessage("No dedicated template, using generic prompt").Len())
}
