package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/flightline-academy/api/internal/services"
)

func TestPubSubTransitionNotifierPublishesEvent(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "matrix-transitions")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	notifier, err := NewPubSubTransitionNotifier(topic)
	if err != nil {
		t.Fatalf("NewPubSubTransitionNotifier: %v", err)
	}

	event := services.TransitionEvent{
		Type:           "matrix.cell.transition",
		MatrixID:       "mtx_1",
		DepartmentID:   "dept_flight",
		PositionID:     "pos_captain",
		DocumentID:     "doc_toeic",
		Action:         "approve",
		PreviousStatus: "pending",
		CurrentStatus:  "approved",
		ActorID:        "usr_reviewer",
		Succeeded:      true,
		OccurredAt:     time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	if err := notifier.NotifyTransition(ctx, event); err != nil {
		t.Fatalf("NotifyTransition: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.TransitionEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.MatrixID != event.MatrixID || payload.CurrentStatus != event.CurrentStatus {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["outcome"]; attr != "success" {
		t.Fatalf("expected success outcome attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["failureCode"]; ok {
		t.Fatalf("failureCode attribute should not be present on success")
	}
}

func TestPubSubTransitionNotifierFailureAttributes(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "matrix-transitions")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	notifier, err := NewPubSubTransitionNotifier(topic)
	if err != nil {
		t.Fatalf("NewPubSubTransitionNotifier: %v", err)
	}

	event := services.TransitionEvent{
		Type:        "matrix.cell.transition",
		MatrixID:    "mtx_1",
		Action:      "reject",
		ActorID:     "usr_reviewer",
		Succeeded:   false,
		FailureCode: "stale_state",
		OccurredAt:  time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	if err := notifier.NotifyTransition(ctx, event); err != nil {
		t.Fatalf("NotifyTransition: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if attr := messages[0].Attributes["failureCode"]; attr != "stale_state" {
		t.Fatalf("failureCode attribute = %q", attr)
	}
	if attr := messages[0].Attributes["outcome"]; attr != "failure" {
		t.Fatalf("outcome attribute = %q", attr)
	}
}
