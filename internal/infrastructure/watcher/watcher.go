package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ragit/backend/internal/infrastructure/log"
)

// RepoWatcher 工作树变更监听器
// 监听已注册仓库的目录树，事件按仓库合并去抖后触发一次重建索引回调
type RepoWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(repositoryID string)

	mu       sync.Mutex
	roots    map[string]string // 监听根目录 -> 仓库 ID
	timers   map[string]*time.Timer
	stopChan chan struct{}
	logger   *slog.Logger
}

// NewRepoWatcher 创建监听器
// onChange 在去抖窗口结束后以仓库 ID 调用，由调用方负责提交索引作业
func NewRepoWatcher(debounce time.Duration, onChange func(repositoryID string)) (*RepoWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	return &RepoWatcher{
		watcher:  w,
		debounce: debounce,
		onChange: onChange,
		roots:    make(map[string]string),
		timers:   make(map[string]*time.Timer),
		stopChan: make(chan struct{}),
		logger:   log.NewModuleLogger("watcher", "repo_watcher"),
	}, nil
}

// Watch 开始监听一个仓库的工作树
// 递归注册所有子目录；fsnotify 不支持递归监听
func (w *RepoWatcher) Watch(repositoryID, root string) error {
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // 不可读目录跳过
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}

		w.mu.Lock()
		w.roots[path] = repositoryID
		w.mu.Unlock()

		return w.watcher.Add(path)
	})
	if err != nil {
		return err
	}

	w.logger.Info("Watching repository working tree",
		"repository_id", repositoryID,
		"root", root,
	)

	return nil
}

// Start 启动事件循环
func (w *RepoWatcher) Start() {
	go w.run()
}

// Stop 停止监听并取消未触发的去抖回调
func (w *RepoWatcher) Stop() error {
	close(w.stopChan)

	w.mu.Lock()
	for repositoryID, timer := range w.timers {
		timer.Stop()
		delete(w.timers, repositoryID)
	}
	w.mu.Unlock()

	return w.watcher.Close()
}

// run 事件循环
func (w *RepoWatcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", "error", err)
		case <-w.stopChan:
			return
		}
	}
}

// handleEvent 处理单个文件系统事件
// 同一仓库的连续事件在去抖窗口内只触发一次回调
func (w *RepoWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	repositoryID := w.lookupRepository(event.Name)
	if repositoryID == "" {
		return
	}

	// 新建目录也纳入监听
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.mu.Lock()
			w.roots[event.Name] = repositoryID
			w.mu.Unlock()
			_ = w.watcher.Add(event.Name)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[repositoryID]; ok {
		timer.Reset(w.debounce)
		return
	}

	w.timers[repositoryID] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, repositoryID)
		w.mu.Unlock()

		w.logger.Debug("Change debounce elapsed, triggering reindex",
			"repository_id", repositoryID,
		)
		w.onChange(repositoryID)
	})
}

// lookupRepository 根据事件路径找到所属仓库
func (w *RepoWatcher) lookupRepository(path string) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(path)
	for {
		if id, ok := w.roots[dir]; ok {
			return id
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
