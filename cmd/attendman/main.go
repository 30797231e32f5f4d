// Command attendman は出席管理APIサーバーを起動する。
//
// 使い方:
//
//	attendman [serve]                  APIサーバーを起動する
//	attendman migrate [up|down|version] マイグレーションを実行する
//	attendman healthcheck              /health を確認する（Dockerヘルスチェック用）
package main

import (
	"log/slog"
	"os"

	"github.com/hitoshi/attendman/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
