package main

import (
	"flag"
	"fmt"
	"os"

	appRAG "github.com/ragit/backend/internal/application/rag"
	appTask "github.com/ragit/backend/internal/application/task"
	domainRAG "github.com/ragit/backend/internal/domain/rag"
)

// runCommand 处理 register/list 子命令
func runCommand(name string, args []string, repoStore domainRAG.RepositoryStore, tasks *appTask.Service) {
	switch name {
	case "register":
		runRegister(args, repoStore, tasks)
	case "list":
		runList(repoStore)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (available: register, list)\n", name)
		os.Exit(2)
	}
}

// runRegister 注册本地仓库并提交首次索引作业
func runRegister(args []string, repoStore domainRAG.RepositoryStore, tasks *appTask.Service) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	repoName := fs.String("name", "", "repository name (defaults to directory name)")
	repoURL := fs.String("url", "", "remote URL")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: worker register [-name NAME] [-url URL] PATH")
		os.Exit(2)
	}

	service := appRAG.NewRepositoryService(repoStore)
	repo, err := service.Register(*repoName, *repoURL, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "register failed: %v\n", err)
		os.Exit(1)
	}

	job, coalesced, err := tasks.SubmitIndex(repo.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to submit index job: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("registered %s (%s)\n", repo.Name, repo.ID)
	if coalesced {
		fmt.Println("index job already pending")
	} else {
		fmt.Printf("index job %s queued\n", job.ID)
	}
}

// runList 列出已注册仓库
func runList(repoStore domainRAG.RepositoryStore) {
	service := appRAG.NewRepositoryService(repoStore)
	repos, err := service.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
		os.Exit(1)
	}

	for _, repo := range repos {
		status := repo.Status
		if repo.Status == domainRAG.RepoStatusIndexing && repo.Phase != "" {
			status = fmt.Sprintf("%s/%s", repo.Status, repo.Phase)
		}
		fmt.Printf("%s  %-20s %-18s files=%d chunks=%d  %s\n",
			repo.ID, repo.Name, status, repo.FileCount, repo.ChunkCount, repo.LocalPath)
	}
}
