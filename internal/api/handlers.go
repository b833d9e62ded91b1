package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/annel0/world-templates/internal/orchestrator"
	"github.com/annel0/world-templates/internal/template"
	"github.com/annel0/world-templates/internal/world"
	"github.com/gin-gonic/gin"
)

// GenericResponse общий формат ответа API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// CreateTemplateRequest тело POST /api/templates
type CreateTemplateRequest struct {
	World    string `json:"world" binding:"required"`
	Template string `json:"template"` // пусто = имя мира
}

// LoadTemplateRequest тело POST /api/templates/:name/load
type LoadTemplateRequest struct {
	World string `json:"world" binding:"required"`
}

// WorldInfo живой мир в ответе API
type WorldInfo struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Dir         string            `json:"dir"`
	Environment world.Environment `json:"environment"`
	LoadedAt    time.Time         `json:"loaded_at"`
}

func worldInfo(h world.Handle) WorldInfo {
	return WorldInfo{
		ID:          h.ID.String(),
		Name:        h.Name,
		Dir:         h.Dir,
		Environment: h.Environment,
		LoadedAt:    h.LoadedAt,
	}
}

// handleHealth обрабатывает запрос проверки здоровья
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
		"uptime": rs.metrics.GetUptime(),
	})
}

// handleServerInfo возвращает сводку о процессе
func (rs *RestServer) handleServerInfo(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: rs.metrics.Snapshot()})
}

// handleListTemplates возвращает имена шаблонов
func (rs *RestServer) handleListTemplates(c *gin.Context) {
	names, err := rs.store.List()
	if err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: names})
}

// handleCreateTemplate создаёт шаблон из загруженного мира
func (rs *RestServer) handleCreateTemplate(c *gin.Context) {
	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Неверный формат запроса: "+err.Error())
		return
	}

	ctx, cancel := rs.opContext(c)
	defer cancel()

	ok, err := rs.orch.CreateTemplateFromWorld(ctx, req.World, req.Template).Wait(ctx)
	if err != nil {
		rs.fail(c, err)
		return
	}
	name := req.Template
	if name == "" {
		name = req.World
	}
	if !ok {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Копирование мира в шаблон не удалось",
			Data:    gin.H{"template": name},
		})
		return
	}

	rs.log.Info("📦 %s создал шаблон %q из мира %q", c.GetString(ctxOperator), name, req.World)
	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Шаблон создан",
		Data:    gin.H{"template": name},
	})
}

// handleDeleteTemplate удаляет шаблон
func (rs *RestServer) handleDeleteTemplate(c *gin.Context) {
	name := c.Param("name")

	ctx, cancel := rs.opContext(c)
	defer cancel()

	if _, err := rs.orch.DeleteTemplate(ctx, name).Wait(ctx); err != nil {
		rs.fail(c, err)
		return
	}
	rs.log.Info("🗑️ %s удалил шаблон %q", c.GetString(ctxOperator), name)
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Шаблон удалён"})
}

// handleLoadTemplate загружает новый мир из шаблона
func (rs *RestServer) handleLoadTemplate(c *gin.Context) {
	var req LoadTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Неверный формат запроса: "+err.Error())
		return
	}

	ctx, cancel := rs.opContext(c)
	defer cancel()

	h, err := rs.orch.LoadTemplate(ctx, c.Param("name"), req.World).Wait(ctx)
	if err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Мир загружен",
		Data:    worldInfo(h),
	})
}

// handleExportTemplate отдаёт шаблон архивом tar+zstd
func (rs *RestServer) handleExportTemplate(c *gin.Context) {
	name := c.Param("name")
	exists, err := rs.store.Exists(name)
	if err != nil {
		rs.fail(c, err)
		return
	}
	if !exists {
		abort(c, http.StatusNotFound, "Шаблон не найден")
		return
	}

	c.Header("Content-Type", "application/zstd")
	c.Header("Content-Disposition", `attachment; filename="`+name+`.tar.zst"`)
	c.Status(http.StatusOK)
	if err := rs.store.Export(c.Request.Context(), name, c.Writer, rs.excl); err != nil {
		// Заголовки уже отправлены, остаётся только записать ошибку в лог
		_ = c.Error(err)
		rs.log.Error("❌ Экспорт шаблона %q прерван: %v", name, err)
	}
}

// handleImportTemplate распаковывает архив из тела запроса в шаблон
func (rs *RestServer) handleImportTemplate(c *gin.Context) {
	name := c.Param("name")
	if err := rs.store.Import(c.Request.Context(), c.Request.Body, name, rs.excl); err != nil {
		rs.fail(c, err)
		return
	}
	rs.log.Info("📥 %s импортировал шаблон %q", c.GetString(ctxOperator), name)
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Message: "Шаблон импортирован"})
}

// handleListWorlds возвращает живые миры и записи реестра
func (rs *RestServer) handleListWorlds(c *gin.Context) {
	live := rs.orch.LiveWorlds()
	infos := make([]WorldInfo, 0, len(live))
	for _, h := range live {
		infos = append(infos, worldInfo(h))
	}

	data := gin.H{"live": infos}
	if rs.registry != nil {
		recs, err := rs.registry.List(c.Request.Context())
		if err != nil {
			rs.fail(c, err)
			return
		}
		data["registered"] = recs
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: data})
}

// handleForgetWorld убирает мир из списка живых
func (rs *RestServer) handleForgetWorld(c *gin.Context) {
	if !rs.orch.ForgetWorld(c.Param("name")) {
		abort(c, http.StatusNotFound, "Мир не найден среди загруженных из шаблонов")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Мир забыт"})
}

// opContext ограничивает ожидание Future временем операции.
// По таймауту клиент получает 504, а сама операция продолжается в оркестраторе.
func (rs *RestServer) opContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), rs.timeout)
}

// fail отвечает ошибкой с HTTP-статусом по её виду
func (rs *RestServer) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	abort(c, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, template.ErrInvalidName),
		errors.Is(err, template.ErrUnsafeArchive):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrSourceNotFound),
		errors.Is(err, orchestrator.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, template.ErrTemplateRootUnset):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
