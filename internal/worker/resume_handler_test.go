package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"refermail/internal/database"
	"refermail/internal/docfetch"
	"refermail/internal/errcode"
	"refermail/internal/profile"
	"refermail/internal/tasks"
)

type fakeExtractor struct {
	profile profile.CandidateProfile
	err     error
	calls   int
}

func (f *fakeExtractor) Extract(_ context.Context, _ string) (profile.CandidateProfile, error) {
	f.calls++
	return f.profile, f.err
}

type fakeSaver struct {
	saved      []profile.CandidateProfile
	saveErr    error
	markedFail []uint
}

func (f *fakeSaver) Save(_ context.Context, _ uint, p profile.CandidateProfile) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, p)
	return nil
}

func (f *fakeSaver) MarkFailed(_ context.Context, userID uint) error {
	f.markedFail = append(f.markedFail, userID)
	return nil
}

type fakeNotifier struct {
	messages []ResumeProcessNotifyMessage
}

func (f *fakeNotifier) Notify(_ context.Context, _ uint, msg ResumeProcessNotifyMessage) error {
	f.messages = append(f.messages, msg)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.MigrateAll(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB) database.User {
	t.Helper()
	user := database.User{Username: "ada"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func newTask(t *testing.T, userID uint) *asynq.Task {
	t.Helper()
	task, err := tasks.NewResumeProcessTask(userID, "storage://resumes/cv.pdf", "corr-1")
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func TestProcessTask_Success(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)

	extractor := &fakeExtractor{profile: profile.CandidateProfile{
		Skills: []profile.Skill{{Name: "Go"}},
	}}
	saver := &fakeSaver{}
	notifier := &fakeNotifier{}
	h := NewResumeTaskHandler(db, extractor, saver, notifier, testLogger())

	if err := h.ProcessTask(context.Background(), newTask(t, user.ID)); err != nil {
		t.Fatalf("process task: %v", err)
	}

	if len(saver.saved) != 1 {
		t.Fatalf("saved %d profiles, want 1", len(saver.saved))
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.messages))
	}
	msg := notifier.messages[0]
	if msg.Status != "completed" || msg.ErrorCode != errcode.OK || msg.CorrelationID != "corr-1" {
		t.Fatalf("notification = %+v", msg)
	}
}

func TestProcessTask_UserInputErrorSkipsRetry(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)

	extractErr := fmt.Errorf("fetch document: %w", docfetch.ErrUnresolvableReference)
	extractor := &fakeExtractor{err: extractErr}
	saver := &fakeSaver{}
	notifier := &fakeNotifier{}
	h := NewResumeTaskHandler(db, extractor, saver, notifier, testLogger())

	err := h.ProcessTask(context.Background(), newTask(t, user.ID))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("got %v, want SkipRetry", err)
	}

	if len(saver.markedFail) != 1 || saver.markedFail[0] != user.ID {
		t.Fatalf("markedFail = %v", saver.markedFail)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.messages))
	}
	msg := notifier.messages[0]
	if msg.Status != "error" || msg.ErrorCode != errcode.BadDocumentLink {
		t.Fatalf("notification = %+v", msg)
	}
}

func TestProcessTask_StorageOutageIsRetryable(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)

	outage := fmt.Errorf("fetch document: read object %q: %w",
		"resumes/1/cv.pdf", errors.New("dial tcp 10.0.0.5:9000: i/o timeout"))
	extractor := &fakeExtractor{err: outage}
	saver := &fakeSaver{}
	notifier := &fakeNotifier{}
	h := NewResumeTaskHandler(db, extractor, saver, notifier, testLogger())

	err := h.ProcessTask(context.Background(), newTask(t, user.ID))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("storage outage must stay retryable, got %v", err)
	}
	if len(saver.markedFail) != 0 {
		t.Fatalf("profile marked FAILED for transient outage: %v", saver.markedFail)
	}
	if len(notifier.messages) != 0 {
		t.Fatalf("user notified for transient outage: %v", notifier.messages)
	}
}

func TestProcessTask_TransientErrorIsRetryable(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)

	extractor := &fakeExtractor{err: errors.New("backend down")}
	saver := &fakeSaver{}
	notifier := &fakeNotifier{}
	h := NewResumeTaskHandler(db, extractor, saver, notifier, testLogger())

	err := h.ProcessTask(context.Background(), newTask(t, user.ID))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatal("transient failures must stay retryable")
	}
	if len(saver.markedFail) != 0 {
		t.Fatalf("markedFail = %v, want none before final attempt", saver.markedFail)
	}
	if len(notifier.messages) != 0 {
		t.Fatalf("notifications = %v, want none before final attempt", notifier.messages)
	}
}

func TestProcessTask_UnknownUserIsDropped(t *testing.T) {
	db := newTestDB(t)
	extractor := &fakeExtractor{}
	h := NewResumeTaskHandler(db, extractor, &fakeSaver{}, &fakeNotifier{}, testLogger())

	if err := h.ProcessTask(context.Background(), newTask(t, 999)); err != nil {
		t.Fatalf("got %v, want nil for unknown user", err)
	}
	if extractor.calls != 0 {
		t.Fatal("extract should not run for unknown user")
	}
}

func TestProcessTask_MalformedPayloadSkipsRetry(t *testing.T) {
	db := newTestDB(t)
	h := NewResumeTaskHandler(db, &fakeExtractor{}, &fakeSaver{}, &fakeNotifier{}, testLogger())

	task := asynq.NewTask(tasks.TypeResumeProcess, []byte("{not json"))
	if err := h.ProcessTask(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("got %v, want SkipRetry", err)
	}
}
