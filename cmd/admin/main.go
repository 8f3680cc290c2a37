package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"refermail/internal/auth"
	"refermail/internal/config"
	"refermail/internal/database"
)

const usage = `usage: admin <command> [flags]

commands:
  create-user   创建初始账号并打印一次性密码
  queue-stats   打印队列统计
  list-dead     列出死信（archived）任务
  requeue-dead  将死信任务全部重新入队
  delete-dead   删除全部死信任务
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "create-user":
		runCreateUser(args)
	case "queue-stats":
		runQueueStats()
	case "list-dead":
		runListDead()
	case "requeue-dead":
		runRequeueDead()
	case "delete-dead":
		runDeleteDead()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}

func newInspector() *asynq.Inspector {
	cfg := config.MustLoad()
	return asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
}

func runQueueStats() {
	inspector := newInspector()
	defer inspector.Close()

	queues, err := inspector.Queues()
	if err != nil {
		log.Fatalf("list queues: %v", err)
	}

	for _, q := range queues {
		info, err := inspector.GetQueueInfo(q)
		if err != nil {
			log.Fatalf("queue info %s: %v", q, err)
		}
		fmt.Printf("queue=%s pending=%d active=%d retry=%d archived=%d completed=%d\n",
			info.Queue, info.Pending, info.Active, info.Retry, info.Archived, info.Completed)
	}
}

func runListDead() {
	inspector := newInspector()
	defer inspector.Close()

	tasksList, err := inspector.ListArchivedTasks("default", asynq.PageSize(100))
	if err != nil {
		log.Fatalf("list archived tasks: %v", err)
	}

	if len(tasksList) == 0 {
		fmt.Println("no archived tasks")
		return
	}
	for _, t := range tasksList {
		fmt.Printf("id=%s type=%s retried=%d last_error=%q\n", t.ID, t.Type, t.Retried, t.LastErr)
	}
}

func runRequeueDead() {
	inspector := newInspector()
	defer inspector.Close()

	n, err := inspector.RunAllArchivedTasks("default")
	if err != nil {
		log.Fatalf("requeue archived tasks: %v", err)
	}
	fmt.Printf("requeued %d tasks\n", n)
}

func runDeleteDead() {
	inspector := newInspector()
	defer inspector.Close()

	n, err := inspector.DeleteAllArchivedTasks("default")
	if err != nil {
		log.Fatalf("delete archived tasks: %v", err)
	}
	fmt.Printf("deleted %d tasks\n", n)
}

func runCreateUser(args []string) {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	username := fs.String("username", "", "初始账号用户名（必填）")
	email := fs.String("email", "", "账号邮箱（可选）")
	_ = fs.Parse(args)

	u := strings.TrimSpace(*username)
	if u == "" {
		log.Fatal("missing required flag: --username")
	}

	cfg := config.MustLoad()
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}

	if err := database.MigrateAll(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}

	var existing database.User
	switch err := db.Where("username = ?", u).First(&existing).Error; {
	case err == nil:
		log.Fatalf("user %q already exists", u)
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		log.Fatalf("query user: %v", err)
	}

	password, err := generateRandomPassword(24)
	if err != nil {
		log.Fatalf("generate password: %v", err)
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	user := database.User{
		Username:      u,
		PasswordHash:  hashed,
		Email:         strings.TrimSpace(*email),
		ProfileStatus: database.ProfileStatusNone,
	}
	if err := db.Create(&user).Error; err != nil {
		log.Fatalf("create user: %v", err)
	}

	fmt.Printf("已创建初始账号：\n")
	fmt.Printf("用户名: %s\n", u)
	fmt.Printf("初始密码: %s\n", password)
	fmt.Printf("提示：该密码仅显示一次。\n")
}

func generateRandomPassword(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		bytesLen = 24
	}
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
