package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"
)

// Test data factories. Each returns an entity with plausible fake data; pass
// an override to pin the fields a test cares about.

func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// FakePhoneNumber returns an E.164-shaped US number.
func FakePhoneNumber() string {
	return fmt.Sprintf("+1%s", gofakeit.Numerify("##########"))
}

// FakeDynamicVars builds a dynamic_vars JSON document from key/value pairs.
func FakeDynamicVars(pairs ...DynamicVar) datatypes.JSON {
	if len(pairs) == 0 {
		pairs = []DynamicVar{
			{Key: "first_name", Value: gofakeit.FirstName()},
			{Key: "company", Value: gofakeit.Company()},
		}
	}
	bytes, _ := json.Marshal(pairs)
	return datatypes.JSON(bytes)
}

// NewFakeClient creates a Client with a healthy credit balance.
func NewFakeClient(override ...*Client) *Client {
	base := &Client{
		ID:           gofakeit.UUID(),
		Name:         gofakeit.Company(),
		TotalMinutes: int64(gofakeit.Number(1000, 10000)),
		CreatedAt:    time.Now().UTC().Add(-time.Duration(gofakeit.Number(1, 90)) * 24 * time.Hour),
		UpdatedAt:    time.Now().UTC(),
	}
	if len(override) > 0 && override[0] != nil {
		ovr := override[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.TotalMinutes != 0 {
			base.TotalMinutes = ovr.TotalMinutes
		}
		base.ReservedMinutes = ovr.ReservedMinutes
		base.ConsumedMinutes = ovr.ConsumedMinutes
	}
	return base
}

// NewFakeAgent creates an Agent owned by the given client.
func NewFakeAgent(clientID string, override ...*Agent) *Agent {
	base := &Agent{
		ID:              gofakeit.UUID(),
		ClientID:        clientID,
		Name:            gofakeit.Username(),
		ProviderAgentID: "agt_" + gofakeit.LetterN(12),
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if len(override) > 0 && override[0] != nil {
		ovr := override[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.ProviderAgentID != "" {
			base.ProviderAgentID = ovr.ProviderAgentID
		}
	}
	return base
}

// NewFakeCampaign creates a published Campaign for the client and agent.
func NewFakeCampaign(clientID, agentID string, override ...*Campaign) *Campaign {
	base := &Campaign{
		ID:         gofakeit.UUID(),
		ClientID:   clientID,
		Name:       gofakeit.Sentence(3),
		Status:     CampaignStatusPublished,
		AgentID:    agentID,
		FromNumber: FakePhoneNumber(),
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if len(override) > 0 && override[0] != nil {
		ovr := override[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.FromNumber != "" {
			base.FromNumber = ovr.FromNumber
		}
	}
	return base
}

// NewFakeContact creates a pending, active CampaignContact.
func NewFakeContact(campaignID string, override ...*CampaignContact) *CampaignContact {
	base := &CampaignContact{
		ID:          gofakeit.UUID(),
		CampaignID:  campaignID,
		PhoneNumber: FakePhoneNumber(),
		DynamicVars: FakeDynamicVars(),
		Active:      true,
		CallStatus:  ContactStatusPending,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if len(override) > 0 && override[0] != nil {
		ovr := override[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.PhoneNumber != "" {
			base.PhoneNumber = ovr.PhoneNumber
		}
		if ovr.CallStatus != "" {
			base.CallStatus = ovr.CallStatus
		}
		if ovr.AttemptCount != 0 {
			base.AttemptCount = ovr.AttemptCount
		}
		if len(ovr.DynamicVars) > 0 {
			base.DynamicVars = ovr.DynamicVars
		}
	}
	return base
}

// NewFakeBatchCall creates a processing BatchCall in the polling rotation.
func NewFakeBatchCall(campaignID, clientID string, override ...*BatchCall) *BatchCall {
	nextPoll := time.Now().UTC().Add(15 * time.Second)
	base := &BatchCall{
		ID:               gofakeit.UUID(),
		ProviderBatchID:  "bat_" + gofakeit.LetterN(12),
		CampaignID:       campaignID,
		ClientID:         clientID,
		TaskCount:        gofakeit.Number(1, 50),
		Status:           BatchStatusProcessing,
		EstimatedMinutes: int64(gofakeit.Number(10, 500)),
		NextPollAt:       &nextPoll,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	base.ReservedMinutes = base.EstimatedMinutes
	if len(override) > 0 && override[0] != nil {
		ovr := override[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.ProviderBatchID != "" {
			base.ProviderBatchID = ovr.ProviderBatchID
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.ReservedMinutes != 0 {
			base.ReservedMinutes = ovr.ReservedMinutes
			base.EstimatedMinutes = ovr.ReservedMinutes
		}
		if ovr.PollAttempts != 0 {
			base.PollAttempts = ovr.PollAttempts
		}
		base.CreditsSettled = ovr.CreditsSettled
		base.Reconciled = ovr.Reconciled
	}
	return base
}

// NewFakeCall creates an initiated Call belonging to the batch.
func NewFakeCall(batch *BatchCall, override ...*Call) *Call {
	batchID := batch.ID
	base := &Call{
		ID:            gofakeit.UUID(),
		BatchCallID:   &batchID,
		CampaignID:    batch.CampaignID,
		ClientID:      batch.ClientID,
		FromNumber:    FakePhoneNumber(),
		ToNumber:      FakePhoneNumber(),
		AgentID:       gofakeit.UUID(),
		Direction:     CallDirectionOutbound,
		Status:        CallStatusInitiated,
		AttemptNumber: 1,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if len(override) > 0 && override[0] != nil {
		ovr := override[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.ToNumber != "" {
			base.ToNumber = ovr.ToNumber
		}
		if ovr.ProviderCallID != nil {
			base.ProviderCallID = ovr.ProviderCallID
		}
		if ovr.DurationMs != 0 {
			base.DurationMs = ovr.DurationMs
		}
	}
	return base
}
