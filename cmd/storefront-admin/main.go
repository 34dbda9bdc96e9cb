// storefront-admin 是运维命令行：初始化管理员、重置密码与执行建表迁移。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"storefront/internal/auth"
	"storefront/internal/config"
	"storefront/internal/obs"
	"storefront/internal/repo"
	"storefront/internal/server"
)

const usage = `usage: storefront-admin <command> [flags]

commands:
  seed-admin      -email <email> -password <password> [-name <name>]
  reset-password  -email <email> -password <password>
  migrate
`

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "读取 .env 失败:", err)
	}
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "加载配置失败:", err)
		os.Exit(1)
	}
	slog.SetDefault(obs.NewLogger(cfg.Env))

	ctx := context.Background()
	st, closeFn, err := server.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("打开存储失败", "err", err)
		os.Exit(1)
	}
	defer closeFn()

	if err := run(ctx, repo.New(st), os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run 执行子命令。migrate 的建表已在 OpenStore 中完成，这里只补系统角色。
func run(ctx context.Context, repos *repo.Repos, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "seed-admin":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		fs.SetOutput(out)
		email := fs.String("email", "", "admin email")
		password := fs.String("password", "", "admin password (min 8 chars)")
		name := fs.String("name", "", "display name")
		if err := fs.Parse(args); err != nil {
			return err
		}
		u, created, err := seedAdmin(ctx, repos, *email, *password, *name)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(out, "created admin %s (%s)\n", u.Email, u.ID)
		} else {
			fmt.Fprintf(out, "promoted %s (%s) to admin\n", u.Email, u.ID)
		}
		return nil
	case "reset-password":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		fs.SetOutput(out)
		email := fs.String("email", "", "user email")
		password := fs.String("password", "", "new password (min 8 chars)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := resetPassword(ctx, repos, *email, *password); err != nil {
			return err
		}
		fmt.Fprintf(out, "password reset for %s\n", strings.ToLower(strings.TrimSpace(*email)))
		return nil
	case "migrate":
		if err := repos.Roles.EnsureSystemRoles(ctx); err != nil {
			return fmt.Errorf("初始化系统角色失败: %w", err)
		}
		fmt.Fprintln(out, "schema up to date")
		return nil
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("未知命令: %s", cmd)
	}
}

// seedAdmin 创建管理员；邮箱已存在时提升为管理员并更新密码。
func seedAdmin(ctx context.Context, repos *repo.Repos, email, password, name string) (repo.User, bool, error) {
	if strings.TrimSpace(email) == "" || len(password) < 8 {
		return repo.User{}, false, errors.New("-email 不能为空，-password 至少 8 位")
	}
	if err := repos.Roles.EnsureSystemRoles(ctx); err != nil {
		return repo.User{}, false, err
	}
	u, err := repos.Users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if err := repos.Users.SetPassword(ctx, u.ID, password); err != nil {
			return repo.User{}, false, err
		}
		u, err = repos.Users.SetRole(ctx, u.ID, auth.RoleAdmin)
		return u, false, err
	case repo.IsNotFound(err):
		u, err = repos.Users.Create(ctx, repo.CreateUserInput{
			Email:    email,
			Password: password,
			Name:     name,
			Role:     auth.RoleAdmin,
		})
		return u, err == nil, err
	default:
		return repo.User{}, false, err
	}
}

func resetPassword(ctx context.Context, repos *repo.Repos, email, password string) error {
	if len(password) < 8 {
		return errors.New("-password 至少 8 位")
	}
	u, err := repos.Users.GetByEmail(ctx, email)
	if err != nil {
		if repo.IsNotFound(err) {
			return fmt.Errorf("用户不存在: %s", email)
		}
		return err
	}
	return repos.Users.SetPassword(ctx, u.ID, password)
}
