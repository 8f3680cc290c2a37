package drafts

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"refermail/internal/database"
	"refermail/internal/genmail"
)

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

var draftEmail = genmail.GeneratedEmail{Subject: "Referral request", Body: "Hi there"}

func coldRequest() genmail.GenerationRequest {
	return genmail.GenerationRequest{
		Type:         genmail.TypeCold,
		ContactName:  "Grace",
		ContactEmail: "grace@initech.example",
		CompanyName:  "Initech",
		ContactRole:  "Staff Engineer",
	}
}

func tailoredRequest() genmail.GenerationRequest {
	return genmail.GenerationRequest{
		Type:           genmail.TypeTailored,
		ContactName:    "Grace",
		CompanyName:    "Initech",
		JobIDs:         []string{"JOB-1", "JOB-2"},
		JobDescription: "Senior Go engineer",
	}
}

func TestSaveDraft_CreatesFullGraph(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	store := NewStore(db, nil)

	result, err := store.SaveDraft(context.Background(), user.ID, coldRequest(), draftEmail)
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if result.ThreadID == 0 || result.MessageID == 0 {
		t.Fatalf("result = %+v, want non-zero ids", result)
	}

	var thread database.Thread
	if err := db.Preload("Employee").Preload("Messages").First(&thread, result.ThreadID).Error; err != nil {
		t.Fatalf("load thread: %v", err)
	}
	if thread.Type != database.ThreadTypeCold {
		t.Fatalf("thread type = %q", thread.Type)
	}
	if thread.Status != database.ThreadStatusPending {
		t.Fatalf("thread status = %q", thread.Status)
	}
	if thread.Employee.Name != "Grace" || thread.Employee.Email == nil {
		t.Fatalf("employee = %+v", thread.Employee)
	}
	if len(thread.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(thread.Messages))
	}
	msg := thread.Messages[0]
	if msg.Status != database.MessageStatusDraft || !msg.FromUser {
		t.Fatalf("message = %+v", msg)
	}
}

func TestSaveDraft_ReusesEmployeeByEmail(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	store := NewStore(db, nil)
	ctx := context.Background()

	if _, err := store.SaveDraft(ctx, user.ID, coldRequest(), draftEmail); err != nil {
		t.Fatalf("first save: %v", err)
	}

	req := coldRequest()
	req.ContactRole = "Principal Engineer"
	if _, err := store.SaveDraft(ctx, user.ID, req, draftEmail); err != nil {
		t.Fatalf("second save: %v", err)
	}

	var count int64
	if err := db.Model(&database.Employee{}).Count(&count).Error; err != nil {
		t.Fatalf("count employees: %v", err)
	}
	if count != 1 {
		t.Fatalf("employees = %d, want 1 (deduplicated by email)", count)
	}

	var employee database.Employee
	if err := db.First(&employee).Error; err != nil {
		t.Fatalf("load employee: %v", err)
	}
	if employee.Role != "Principal Engineer" {
		t.Fatalf("role = %q, want refreshed contact info", employee.Role)
	}
}

func TestSaveDraft_AlwaysInsertsEmployeeWithoutEmail(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	store := NewStore(db, nil)
	ctx := context.Background()

	req := coldRequest()
	req.ContactEmail = ""
	if _, err := store.SaveDraft(ctx, user.ID, req, draftEmail); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if _, err := store.SaveDraft(ctx, user.ID, req, draftEmail); err != nil {
		t.Fatalf("second save: %v", err)
	}

	var count int64
	if err := db.Model(&database.Employee{}).Count(&count).Error; err != nil {
		t.Fatalf("count employees: %v", err)
	}
	if count != 2 {
		t.Fatalf("employees = %d, want 2 (no identity key to deduplicate on)", count)
	}
}

func TestSaveDraft_TailoredMapsJobs(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	store := NewStore(db, nil)
	ctx := context.Background()

	result, err := store.SaveDraft(ctx, user.ID, tailoredRequest(), draftEmail)
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}

	var thread database.Thread
	if err := db.Preload("Jobs").First(&thread, result.ThreadID).Error; err != nil {
		t.Fatalf("load thread: %v", err)
	}
	if len(thread.Jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(thread.Jobs))
	}

	// 相同职位再次引用时复用既有行。
	if _, err := store.SaveDraft(ctx, user.ID, tailoredRequest(), draftEmail); err != nil {
		t.Fatalf("second save: %v", err)
	}
	var jobCount int64
	if err := db.Model(&database.Job{}).Count(&jobCount).Error; err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if jobCount != 2 {
		t.Fatalf("jobs = %d, want 2 (deduplicated by external id)", jobCount)
	}
}

func TestSaveDraft_JobUpsertFailureFallsBackToRead(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	store := NewStore(db, nil)
	ctx := context.Background()

	existing := database.Job{ExternalID: "JOB-1", Description: "original posting"}
	if err := db.Create(&existing).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}

	// 让 JOB-1 的冲突更新分支失败，upsert 报错但回读仍可命中既有行。
	trigger := `CREATE TRIGGER reject_job_1_update BEFORE UPDATE ON jobs
		WHEN NEW.external_id = 'JOB-1'
		BEGIN SELECT RAISE(ABORT, 'job row locked'); END`
	if err := db.Exec(trigger).Error; err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	result, err := store.SaveDraft(ctx, user.ID, tailoredRequest(), draftEmail)
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}

	var thread database.Thread
	if err := db.Preload("Jobs").First(&thread, result.ThreadID).Error; err != nil {
		t.Fatalf("load thread: %v", err)
	}
	if len(thread.Jobs) != 2 {
		t.Fatalf("jobs = %d, want 2 (mapping via fallback read)", len(thread.Jobs))
	}

	var job database.Job
	if err := db.Where("external_id = ?", "JOB-1").First(&job).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.ID != existing.ID {
		t.Fatalf("job id = %d, want existing row %d reused", job.ID, existing.ID)
	}
	if job.Description != "original posting" {
		t.Fatalf("description = %q, want unchanged after aborted upsert", job.Description)
	}
}

func TestSaveDraft_JobUpsertAndFallbackBothFailAborts(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	store := NewStore(db, nil)

	// 插入被拒且无既有行可回读：整个事务中止，不留部分行。
	trigger := `CREATE TRIGGER reject_job_1_insert BEFORE INSERT ON jobs
		WHEN NEW.external_id = 'JOB-1'
		BEGIN SELECT RAISE(ABORT, 'jobs insert rejected'); END`
	if err := db.Exec(trigger).Error; err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	_, err := store.SaveDraft(context.Background(), user.ID, tailoredRequest(), draftEmail)
	if err == nil {
		t.Fatal("expected save to fail")
	}

	var threads, employees, messages, jobs, mappings int64
	for _, q := range []struct {
		name  string
		count *int64
		model any
	}{
		{"threads", &threads, &database.Thread{}},
		{"employees", &employees, &database.Employee{}},
		{"messages", &messages, &database.Message{}},
		{"jobs", &jobs, &database.Job{}},
	} {
		if err := db.Model(q.model).Count(q.count).Error; err != nil {
			t.Fatalf("count %s: %v", q.name, err)
		}
	}
	if err := db.Table("thread_jobs").Count(&mappings).Error; err != nil {
		t.Fatalf("count thread_jobs: %v", err)
	}
	if threads != 0 || employees != 0 || messages != 0 || jobs != 0 || mappings != 0 {
		t.Fatalf("threads=%d employees=%d messages=%d jobs=%d mappings=%d, want full rollback",
			threads, employees, messages, jobs, mappings)
	}
}

func TestSaveDraft_RollsBackOnFailure(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	store := NewStore(db, nil)

	// 删掉 messages 表让最后一步写入失败，验证前面的写入全部回滚。
	if err := db.Migrator().DropTable(&database.Message{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	_, err := store.SaveDraft(context.Background(), user.ID, coldRequest(), draftEmail)
	if err == nil {
		t.Fatal("expected save to fail")
	}

	var threads, employees int64
	if err := db.Model(&database.Thread{}).Count(&threads).Error; err != nil {
		t.Fatalf("count threads: %v", err)
	}
	if err := db.Model(&database.Employee{}).Count(&employees).Error; err != nil {
		t.Fatalf("count employees: %v", err)
	}
	if threads != 0 || employees != 0 {
		t.Fatalf("threads=%d employees=%d, want full rollback", threads, employees)
	}
}

func TestSaveDraft_RejectsNonCreatingType(t *testing.T) {
	store := NewStore(newTestDB(t), nil)
	_, err := store.SaveDraft(context.Background(), 1, genmail.GenerationRequest{Type: genmail.TypeFollowup, ThreadID: 1}, draftEmail)
	if err == nil {
		t.Fatal("expected error for followup request")
	}
}

func TestAppendToThread_AdvancesFollowupStatus(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	store := NewStore(db, nil)
	ctx := context.Background()

	result, err := store.SaveDraft(ctx, user.ID, coldRequest(), draftEmail)
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}

	followup := genmail.GenerationRequest{Type: genmail.TypeFollowup, ThreadID: result.ThreadID}
	wantStatuses := []string{
		database.ThreadStatusFirstFollowup,
		database.ThreadStatusSecondFollowup,
		database.ThreadStatusThirdFollowup,
		database.ThreadStatusThirdFollowup, // 封顶，不再推进
	}
	for i, want := range wantStatuses {
		if _, err := store.AppendToThread(ctx, user.ID, followup, draftEmail); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		var thread database.Thread
		if err := db.First(&thread, result.ThreadID).Error; err != nil {
			t.Fatalf("load thread: %v", err)
		}
		if thread.Status != want {
			t.Fatalf("after append %d status = %q, want %q", i, thread.Status, want)
		}
	}

	var messages int64
	if err := db.Model(&database.Message{}).Where("thread_id = ?", result.ThreadID).Count(&messages).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if messages != 5 {
		t.Fatalf("messages = %d, want 5", messages)
	}
}

func TestAppendToThread_ThankyouKeepsStatus(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	store := NewStore(db, nil)
	ctx := context.Background()

	result, err := store.SaveDraft(ctx, user.ID, coldRequest(), draftEmail)
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}

	thankyou := genmail.GenerationRequest{Type: genmail.TypeThankyou, ThreadID: result.ThreadID}
	if _, err := store.AppendToThread(ctx, user.ID, thankyou, draftEmail); err != nil {
		t.Fatalf("append: %v", err)
	}

	var thread database.Thread
	if err := db.First(&thread, result.ThreadID).Error; err != nil {
		t.Fatalf("load thread: %v", err)
	}
	if thread.Status != database.ThreadStatusPending {
		t.Fatalf("status = %q, want unchanged PENDING", thread.Status)
	}
}

func TestAppendToThread_WrongOwner(t *testing.T) {
	db := newTestDB(t)
	owner := seedUser(t, db)
	store := NewStore(db, nil)
	ctx := context.Background()

	result, err := store.SaveDraft(ctx, owner.ID, coldRequest(), draftEmail)
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}

	other := database.User{Username: "mallory"}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	followup := genmail.GenerationRequest{Type: genmail.TypeFollowup, ThreadID: result.ThreadID}
	if _, err := store.AppendToThread(ctx, other.ID, followup, draftEmail); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("got %v, want ErrThreadNotFound", err)
	}
}

func TestMarkSent(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	store := NewStore(db, nil)
	ctx := context.Background()

	result, err := store.SaveDraft(ctx, user.ID, coldRequest(), draftEmail)
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}

	if err := store.MarkSent(ctx, user.ID, result.MessageID, "gmail-123"); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	var message database.Message
	if err := db.First(&message, result.MessageID).Error; err != nil {
		t.Fatalf("load message: %v", err)
	}
	if message.Status != database.MessageStatusSent {
		t.Fatalf("message status = %q", message.Status)
	}
	if message.ExternalMailID == nil || *message.ExternalMailID != "gmail-123" {
		t.Fatalf("external mail id = %v", message.ExternalMailID)
	}

	var thread database.Thread
	if err := db.First(&thread, result.ThreadID).Error; err != nil {
		t.Fatalf("load thread: %v", err)
	}
	if thread.Status != database.ThreadStatusSent {
		t.Fatalf("thread status = %q", thread.Status)
	}
}

func TestMarkSent_WrongOwner(t *testing.T) {
	db := newTestDB(t)
	owner := seedUser(t, db)
	store := NewStore(db, nil)
	ctx := context.Background()

	result, err := store.SaveDraft(ctx, owner.ID, coldRequest(), draftEmail)
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}

	other := database.User{Username: "mallory"}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	if err := store.MarkSent(ctx, other.ID, result.MessageID, ""); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("got %v, want ErrMessageNotFound", err)
	}
}
