package app

import (
	"context"
	"embed"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"sidedock/app/services"
	"sidedock/internal/adapters/api"
	"sidedock/internal/adb"
	"sidedock/internal/catalog"
	"sidedock/internal/core"
	"sidedock/internal/downloader"
	"sidedock/internal/settings"
)

//go:embed all:frontend_dist
var assets embed.FS

// App struct holds the application state and services
type App struct {
	ctx context.Context

	adbHandler      *adb.Handler
	downloaderMgr   *downloader.Manager
	settingsStore   *settings.Store
	downloadsCat    *catalog.DownloadsCatalog
	backupsCat      *catalog.BackupsCatalog
	taskManager     *core.TaskManager
	multiEmitter    *core.MultiEmitter

	prereqService      *services.PrereqService
	deviceService      *services.DeviceService
	taskService        *services.TaskService
	downloaderService  *services.DownloaderService
	catalogService     *services.CatalogService
	settingsService    *services.SettingsService
	logService         *services.LogService
	systemService      *services.SystemService
	configService      *services.ConfigService
	apiServer          *api.Server

	logger *log.Logger
}

const appDirName = ".sidedock"

// NewApp creates a new App instance
func NewApp() *App {
	logger := log.New(os.Stderr, "[sidedock] ", log.LstdFlags|log.Lshortfile)
	return &App{logger: logger}
}

// wailsEmitter adapts core.JobEventEmitter to Wails' EventsEmit, bridging
// task progress into the frontend as events.
type wailsEmitter struct {
	getCtx func() context.Context
}

func (e *wailsEmitter) EmitJobUpdate(event core.TaskUpdateEvent) {
	ctx := e.getCtx()
	if ctx == nil {
		return
	}
	runtime.EventsEmit(ctx, "task:update", event)
}

// OnStartup is called when the app starts (called by Wails after frontend loads)
func (a *App) OnStartup(ctx context.Context) {
	a.ctx = ctx
	a.logger.Printf("[App] OnStartup: ENTRY")

	if cfg := a.configService.GetConfig(); cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		runtime.WindowSetSize(ctx, cfg.WindowWidth, cfg.WindowHeight)
		runtime.WindowSetPosition(ctx, cfg.WindowX, cfg.WindowY)
	} else {
		runtime.WindowCenter(ctx)
	}

	a.deviceService.SetContext(ctx)
	a.prereqService.SetContext(ctx)
	a.downloaderService.SetContext(ctx)
	a.logService.SetContext(ctx)
	a.systemService.SetContext(ctx)

	go a.adbHandler.RunTrackerLoop(ctx)
	go a.adbHandler.RunPeriodicRefresh(ctx)
	go a.adbHandler.RunMdnsAutoConnect(ctx)

	a.downloaderMgr.Start(ctx)

	go func() {
		report := a.prereqService.GetPrereqReport()
		a.logger.Printf("[App] OnStartup: prerequisite check overall status: %s", report.OverallStatus)
	}()

	go a.monitorWindowPosition(ctx)

	if apiPort := os.Getenv("SIDEDOCK_API_PORT"); apiPort != "" {
		port, err := strconv.Atoi(apiPort)
		if err != nil {
			a.logger.Printf("[App] OnStartup: invalid API port %q: %v", apiPort, err)
		} else {
			a.startAPIServer(ctx, port)
		}
	}

	a.logger.Printf("[App] OnStartup: EXIT")
}

// OnBeforeClose saves window geometry while the window is still visible.
func (a *App) OnBeforeClose(ctx context.Context) bool {
	x, y := runtime.WindowGetPosition(a.ctx)
	w, h := runtime.WindowGetSize(a.ctx)
	if w > 0 && h > 0 {
		if err := a.configService.SetWindowGeometry(x, y, w, h); err != nil {
			a.logger.Printf("[App] OnBeforeClose: failed to save window geometry: %v", err)
		}
	}
	return false
}

// OnShutdown cancels any running task and releases the ADB connection.
func (a *App) OnShutdown(ctx context.Context) {
	a.logger.Printf("[App] OnShutdown: shutting down...")
	for _, t := range a.taskManager.ListTasks() {
		if t.Status == core.TaskWaiting || t.Status == core.TaskRunning {
			_ = a.taskManager.CancelTask(t.ID)
		}
	}
	a.adbHandler.Disconnect()
	a.logger.Printf("[App] OnShutdown: complete")
}

// startAPIServer initializes and starts the HTTP API server, sharing the
// same task manager driving the Wails UI.
func (a *App) startAPIServer(ctx context.Context, port int) {
	a.logger.Printf("[App] Starting API server on port %d", port)

	a.apiServer = api.NewServer(port, a.logger, a.taskManager,
		api.WithPrereqProvider(func() interface{} {
			return a.prereqService.GetPrereqReport()
		}),
		api.WithDeviceProvider(func() interface{} {
			dev := a.deviceService.CurrentDevice()
			if dev == nil {
				return api.DevicesResponse{Devices: nil, Connected: false}
			}
			return api.DevicesResponse{
				Devices:   []api.DeviceInfo{{Serial: dev.Serial, Name: dev.ManufacturerModel, Connected: true}},
				Connected: true,
			}
		}),
		api.WithSettingsProvider(func() interface{} {
			return a.settingsService.GetSettings()
		}),
		api.WithStartDownloadFunc(func(req api.StartDownloadRequest) (uint64, error) {
			return a.taskService.StartDownload(req.FullName, req.PackageName)
		}),
		api.WithStartDownloadInstallFunc(func(req api.StartDownloadRequest) (uint64, error) {
			return a.taskService.StartDownloadInstall(req.FullName, req.PackageName)
		}),
	)

	a.multiEmitter.Add(a.apiServer)
	a.apiServer.StartBackground(ctx)
}

// monitorWindowPosition watches for window position/size changes and saves
// them so state survives an unexpected exit.
func (a *App) monitorWindowPosition(ctx context.Context) {
	time.Sleep(2 * time.Second)

	var lastX, lastY, lastW, lastH int
	var lastSaveTime time.Time
	const saveDebounce = 500 * time.Millisecond
	const checkInterval = 200 * time.Millisecond

	lastX, lastY = runtime.WindowGetPosition(a.ctx)
	lastW, lastH = runtime.WindowGetSize(a.ctx)
	if lastW > 0 && lastH > 0 {
		_ = a.configService.SetWindowGeometry(lastX, lastY, lastW, lastH)
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			x, y := runtime.WindowGetPosition(a.ctx)
			w, h := runtime.WindowGetSize(a.ctx)

			if x != lastX || y != lastY || w != lastW || h != lastH {
				if time.Since(lastSaveTime) >= saveDebounce && w > 0 && h > 0 {
					if err := a.configService.SetWindowGeometry(x, y, w, h); err != nil {
						a.logger.Printf("[App] monitorWindowPosition: failed to save: %v", err)
					}
					lastSaveTime = time.Now()
				}
				lastX, lastY, lastW, lastH = x, y, w, h
			}
		}
	}
}

// Run starts the Wails application
func Run() error {
	logger := log.New(os.Stderr, "[sidedock] ", log.LstdFlags|log.Lshortfile)
	logger.Printf("[App] Run(): starting initialization")

	appInstance := NewApp()
	ctx := context.Background()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	appDir := filepath.Join(homeDir, appDirName)
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		logger.Printf("[App] Run(): failed to create app dir: %v", err)
	}

	configService, err := services.NewConfigService(logger)
	if err != nil {
		logger.Printf("[App] Run(): config service init failed: %v", err)
	}

	settingsStore, err := settings.NewStore(filepath.Join(appDir, "settings.json"))
	if err != nil {
		logger.Printf("[App] Run(): settings store init failed: %v", err)
		return err
	}
	cur := settingsStore.Get()

	adbHandler := adb.NewHandler(cur.AdbPath, func() bool {
		return settingsStore.Get().PreferredConnectionType == settings.ConnectionWireless
	}, logger)

	downloaderMgr := downloader.NewManager(appDir, cur.InstallationID, &http.Client{}, logger)
	downloaderMgr.BandwidthLimit = func() string { return settingsStore.Get().BandwidthLimit }

	downloadsCat := catalog.NewDownloadsCatalog(cur.DownloadsLocation)
	backupsCat := catalog.NewBackupsCatalog(cur.BackupsLocation)

	multiEmitter := &core.MultiEmitter{}
	emitter := &wailsEmitter{getCtx: func() context.Context { return appInstance.ctx }}
	multiEmitter.Add(emitter)
	taskManager := core.NewTaskManager(multiEmitter)

	deviceService := services.NewDeviceService(ctx, logger, adbHandler)
	taskService := services.NewTaskService(taskManager, adbHandler, downloaderMgr, settingsStore, downloadsCat, backupsCat, logger)
	downloaderService := services.NewDownloaderService(ctx, logger, downloaderMgr)
	catalogService := services.NewCatalogService(logger, downloadsCat, backupsCat)
	settingsService := services.NewSettingsService(logger, settingsStore)
	prereqService := services.NewPrereqService(ctx, logger, adbHandler, downloaderMgr, settingsService)
	logService := services.NewLogService(ctx, logger)
	systemService := services.NewSystemService(ctx, logger)

	appInstance.adbHandler = adbHandler
	appInstance.downloaderMgr = downloaderMgr
	appInstance.settingsStore = settingsStore
	appInstance.downloadsCat = downloadsCat
	appInstance.backupsCat = backupsCat
	appInstance.taskManager = taskManager
	appInstance.multiEmitter = multiEmitter
	appInstance.prereqService = prereqService
	appInstance.deviceService = deviceService
	appInstance.taskService = taskService
	appInstance.downloaderService = downloaderService
	appInstance.catalogService = catalogService
	appInstance.settingsService = settingsService
	appInstance.logService = logService
	appInstance.systemService = systemService
	appInstance.configService = configService

	err = wails.Run(&options.App{
		Title:  "sidedock",
		Width:  1280,
		Height: 800,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 27, G: 38, B: 54, A: 1},
		OnStartup:        appInstance.OnStartup,
		OnBeforeClose:    appInstance.OnBeforeClose,
		OnShutdown:       appInstance.OnShutdown,
		Bind: []interface{}{
			prereqService,
			deviceService,
			taskService,
			downloaderService,
			catalogService,
			settingsService,
			logService,
			systemService,
			configService,
		},
	})

	if err != nil {
		logger.Printf("[App] Run(): wails.Run() returned error: %v", err)
	}
	return err
}
