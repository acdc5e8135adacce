package notifier

import (
	"errors"
	"testing"
	"whalewatch/model"
)

// mockNotifier is a test helper that implements Notifier interface
type mockNotifier struct {
	alerts      []model.Alert
	digests     []string
	closeErr    error
	closeCalled bool
}

func (m *mockNotifier) SendAlert(alert model.Alert) {
	m.alerts = append(m.alerts, alert)
}

func (m *mockNotifier) SendDigest(title, body string) {
	m.digests = append(m.digests, title)
}

func (m *mockNotifier) Close() error {
	m.closeCalled = true
	return m.closeErr
}

func TestNewMultiNotifier_FiltersNil(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, nil, mock2, nil)

	if mn.Count() != 2 {
		t.Errorf("expected 2 notifiers, got %d", mn.Count())
	}
}

func TestNewMultiNotifier_AllNil(t *testing.T) {
	mn := NewMultiNotifier(nil, nil, nil)

	if mn.Count() != 0 {
		t.Errorf("expected 0 notifiers, got %d", mn.Count())
	}
}

func TestMultiNotifier_SendAlert(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, mock2)

	alert := model.Alert{
		ID:            "a1",
		AlertTypes:    []model.AlertType{model.AlertWhaleTrade},
		Severity:      model.SeverityHigh,
		SeverityScore: 9,
		Trade: model.Trade{
			TraderID:  "0xabc",
			Side:      model.SideBuy,
			AmountUSD: 25000,
		},
	}

	mn.SendAlert(alert)

	if len(mock1.alerts) != 1 {
		t.Errorf("expected 1 alert for mock1, got %d", len(mock1.alerts))
	}
	if len(mock2.alerts) != 1 {
		t.Errorf("expected 1 alert for mock2, got %d", len(mock2.alerts))
	}
	if mock1.alerts[0].ID != "a1" {
		t.Errorf("expected alert id 'a1', got %s", mock1.alerts[0].ID)
	}
}

func TestMultiNotifier_SendAlert_NoNotifiers(t *testing.T) {
	mn := NewMultiNotifier()

	// Should not panic
	mn.SendAlert(model.Alert{ID: "a1"})
}

func TestMultiNotifier_SendDigest(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, mock2)
	mn.SendDigest("Daily Digest", "body")

	if len(mock1.digests) != 1 || len(mock2.digests) != 1 {
		t.Error("expected digest delivered to both notifiers")
	}
}

func TestMultiNotifier_Close_Success(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, mock2)

	err := mn.Close()

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !mock1.closeCalled {
		t.Error("expected mock1.Close() to be called")
	}
	if !mock2.closeCalled {
		t.Error("expected mock2.Close() to be called")
	}
}

func TestMultiNotifier_Close_WithError(t *testing.T) {
	expectedErr := errors.New("close error")
	mock1 := &mockNotifier{closeErr: expectedErr}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, mock2)

	err := mn.Close()

	if err != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
	// Both should still be called
	if !mock1.closeCalled {
		t.Error("expected mock1.Close() to be called")
	}
	if !mock2.closeCalled {
		t.Error("expected mock2.Close() to be called")
	}
}

func TestMultiNotifier_Count(t *testing.T) {
	tests := []struct {
		name      string
		notifiers []Notifier
		expected  int
	}{
		{"empty", []Notifier{}, 0},
		{"one", []Notifier{&mockNotifier{}}, 1},
		{"three", []Notifier{&mockNotifier{}, &mockNotifier{}, &mockNotifier{}}, 3},
		{"with nils", []Notifier{&mockNotifier{}, nil, &mockNotifier{}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mn := NewMultiNotifier(tt.notifiers...)
			if mn.Count() != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, mn.Count())
			}
		})
	}
}
