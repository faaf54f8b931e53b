package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipomonitor/models"
)

// fakeRPDAPI records calls and plays back scripted responses.
type fakeRPDAPI struct {
	nextNumber int64
	createErr  error
	commentErr error
	statuses   map[int64]TicketStatus

	created   []CreateTicketRequest
	comments  map[int64][]string
	questions map[int64][][]QuestionAnswer
}

func newFakeRPDAPI() *fakeRPDAPI {
	return &fakeRPDAPI{
		nextNumber: 1000,
		statuses:   map[int64]TicketStatus{},
		comments:   map[int64][]string{},
		questions:  map[int64][][]QuestionAnswer{},
	}
}

func (f *fakeRPDAPI) CreateTicket(_ context.Context, req CreateTicketRequest) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextNumber++
	f.created = append(f.created, req)
	return f.nextNumber, nil
}

func (f *fakeRPDAPI) AddComment(_ context.Context, rpdNumber int64, comment string) error {
	if f.commentErr != nil {
		return f.commentErr
	}
	f.comments[rpdNumber] = append(f.comments[rpdNumber], comment)
	return nil
}

func (f *fakeRPDAPI) UpdateQuestions(_ context.Context, rpdNumber int64, answers []QuestionAnswer) error {
	f.questions[rpdNumber] = append(f.questions[rpdNumber], answers)
	return nil
}

func (f *fakeRPDAPI) GetTicketStatus(_ context.Context, rpdNumber int64) (TicketStatus, error) {
	if status, ok := f.statuses[rpdNumber]; ok {
		return status, nil
	}
	return TicketStatus{Status: "Pending"}, nil
}

func testSyncService(api RPDAPI) *RPDSyncService {
	s := NewRPDSyncService(api, "https://rpd.example.com/tickets", logrus.New())
	s.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	return s
}

func TestSyncOpensTicketForNewCompany(t *testing.T) {
	api := newFakeRPDAPI()
	s := testSyncService(api)
	date := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

	records := []models.ComparisonRecord{{
		CompanyNameExternal: "Acme Corp",
		ExchangeExternal:    "NYSE",
		Ticker:              "ACME",
		IPODate:             &date,
		PriceExternal:       floatP(12.0),
	}}

	out, summary := s.Sync(context.Background(), records, nil)

	require.Len(t, api.created, 1)
	assert.Equal(t, "New IPO: Acme Corp (NYSE)", api.created[0].Subject)
	assert.Contains(t, api.created[0].Body, "Expected listing date: 2026-03-20")
	assert.Contains(t, api.created[0].Body, "Price: 12.00")
	answers := answersByID(api.created[0].Questions)
	assert.Equal(t, "2026-03-20", answers[QuestionIPODate])
	assert.Equal(t, "ACME", answers[QuestionTicker])

	require.Len(t, out, 1)
	require.NotNil(t, out[0].RPDNumber)
	assert.Equal(t, "https://rpd.example.com/tickets/1001", out[0].RPDLink)
	assert.Equal(t, models.RPDStatusPending, out[0].RPDStatus)
	assert.Equal(t, "acme", out[0].FormattedName)
	assert.Equal(t, 1, summary.Created)
}

func TestSyncRetriesCreateWhenEarlierAttemptFailed(t *testing.T) {
	api := newFakeRPDAPI()
	s := testSyncService(api)

	existing := []models.RPDRecord{{CompanyName: "Acme Corp", FormattedName: "acme"}}
	records := []models.ComparisonRecord{{CompanyNameExternal: "Acme Corp"}}

	out, summary := s.Sync(context.Background(), records, existing)

	require.Len(t, api.created, 1)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].RPDNumber)
	assert.Equal(t, 1, summary.Created)
}

func TestSyncCreateFailureIsCountedNotFatal(t *testing.T) {
	api := newFakeRPDAPI()
	api.createErr = errors.New("service unavailable")
	s := testSyncService(api)

	out, summary := s.Sync(context.Background(),
		[]models.ComparisonRecord{{CompanyNameExternal: "Acme Corp"}}, nil)

	require.Len(t, out, 1)
	assert.Nil(t, out[0].RPDNumber)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 1, summary.Errors)
}

func TestSyncCommentsOnTrackedFieldChanges(t *testing.T) {
	api := newFakeRPDAPI()
	s := testSyncService(api)

	oldDate := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	newDate := oldDate.AddDate(0, 0, 7)
	number := int64(2001)

	existing := []models.RPDRecord{{
		CompanyName:   "Acme Corp",
		FormattedName: "acme",
		Ticker:        "ACME",
		Exchange:      "NYSE",
		IPODate:       &oldDate,
		RPDNumber:     &number,
		RPDStatus:     models.RPDStatusPending,
	}}
	records := []models.ComparisonRecord{{
		CompanyNameExternal: "Acme Corp",
		Ticker:              "ACMX",
		ExchangeExternal:    "Nasdaq", // venue moves alone never page anyone
		IPODate:             &newDate,
		CUSIP:               "123456789",
	}}

	out, summary := s.Sync(context.Background(), records, existing)

	require.Len(t, api.comments[number], 1)
	comment := api.comments[number][0]
	assert.Contains(t, comment, "IPO date is now 2026-03-27 (was 2026-03-20)")
	assert.Contains(t, comment, "CUSIP is now 123456789 (was none)")
	assert.Contains(t, comment, "Ticker is now ACMX (was ACME)")
	assert.NotContains(t, comment, "Nasdaq")
	assert.Equal(t, 1, summary.Updated)

	// The structured question fields are refreshed alongside the comment.
	require.Len(t, api.questions[number], 1)
	answers := answersByID(api.questions[number][0])
	assert.Equal(t, "2026-03-27", answers[QuestionIPODate])
	assert.Equal(t, "123456789", answers[QuestionCUSIP])
	assert.Equal(t, "ACMX", answers[QuestionTicker])
	assert.Equal(t, "Nasdaq", answers[QuestionExchange])

	// Snapshot now carries the fresh values; a second identical pass is quiet.
	require.NotNil(t, out[0].IPODate)
	assert.Equal(t, newDate, *out[0].IPODate)
	_, summary = s.Sync(context.Background(), records, out)
	assert.Equal(t, 0, summary.Updated)
	assert.Len(t, api.questions[number], 1)
}

func answersByID(answers []QuestionAnswer) map[int]string {
	out := make(map[int]string, len(answers))
	for _, a := range answers {
		out[a.ID] = a.Value
	}
	return out
}

func TestSyncExchangeOnlyChangeIsSilent(t *testing.T) {
	api := newFakeRPDAPI()
	s := testSyncService(api)
	number := int64(2001)

	existing := []models.RPDRecord{{
		CompanyName: "Acme Corp", FormattedName: "acme",
		Exchange: "NYSE", RPDNumber: &number,
	}}
	records := []models.ComparisonRecord{{
		CompanyNameExternal: "Acme Corp", ExchangeExternal: "Nasdaq",
	}}

	out, summary := s.Sync(context.Background(), records, existing)

	assert.Empty(t, api.comments[number])
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, "Nasdaq", out[0].Exchange)
}

func TestSyncWithdrawalCommentsAndResolvesLocally(t *testing.T) {
	api := newFakeRPDAPI()
	s := testSyncService(api)
	number := int64(3001)

	existing := []models.RPDRecord{{
		CompanyName: "Acme Corp", FormattedName: "acme", RPDNumber: &number,
	}}
	records := []models.ComparisonRecord{{
		CompanyNameExternal: "Acme Corp", Status: "Withdrawn",
	}}

	out, summary := s.Sync(context.Background(), records, existing)

	require.Len(t, api.comments[number], 1)
	assert.True(t, strings.Contains(api.comments[number][0], "withdrawn its offering"))
	assert.Equal(t, models.RPDStatusResolved, out[0].RPDStatus)
	assert.Equal(t, 1, summary.Resolved)

	// Already resolved: no second comment.
	_, summary = s.Sync(context.Background(), records, out)
	require.Len(t, api.comments[number], 1)
	assert.Equal(t, 0, summary.Resolved)
}

func TestSyncFollowsDuplicateResolution(t *testing.T) {
	api := newFakeRPDAPI()
	s := testSyncService(api)
	number := int64(4001)
	survivor := int64(4100)
	api.statuses[number] = TicketStatus{Status: "Resolved", DuplicateOf: &survivor}

	existing := []models.RPDRecord{{
		CompanyName: "Acme Corp", FormattedName: "acme",
		RPDNumber: &number, RPDStatus: models.RPDStatusPending,
	}}

	out, summary := s.Sync(context.Background(), nil, existing)

	require.NotNil(t, out[0].RPDNumber)
	assert.Equal(t, survivor, *out[0].RPDNumber)
	assert.Equal(t, "https://rpd.example.com/tickets/4100", out[0].RPDLink)
	assert.Empty(t, out[0].RPDStatus)
	assert.Equal(t, 1, summary.Redirected)
}

func TestSyncMarksPlainResolution(t *testing.T) {
	api := newFakeRPDAPI()
	s := testSyncService(api)
	number := int64(5001)
	api.statuses[number] = TicketStatus{Status: "Resolved"}

	existing := []models.RPDRecord{{
		CompanyName: "Acme Corp", FormattedName: "acme",
		RPDNumber: &number, RPDStatus: models.RPDStatusPending,
	}}

	out, summary := s.Sync(context.Background(), nil, existing)

	assert.Equal(t, models.RPDStatusResolved, out[0].RPDStatus)
	assert.Equal(t, 0, summary.Redirected)
}

func TestSyncSkipsBlankCompanyNames(t *testing.T) {
	api := newFakeRPDAPI()
	s := testSyncService(api)

	out, summary := s.Sync(context.Background(),
		[]models.ComparisonRecord{{CompanyNameExternal: "   "}}, nil)

	assert.Empty(t, out)
	assert.Empty(t, api.created)
	assert.Equal(t, 0, summary.Created)
}
