package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

// Probe проверяет одно условие; nil означает «в порядке».
type Probe func(ctx context.Context) error

// Item — результат одного пункта диагностики.
type Item struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Report отвечает на четыре вопроса оператора о состоянии процесса.
type Report struct {
	APIReachable       Item      `json:"api_reachable"`
	PrinterPresent     Item      `json:"printer_present"`
	DirectoriesPresent Item      `json:"directories_present"`
	ConfigPresent      Item      `json:"config_present"`
	CheckedAt          time.Time `json:"checked_at"`
}

// OK сообщает, что все пункты в порядке.
func (r Report) OK() bool {
	return r.APIReachable.OK && r.PrinterPresent.OK && r.DirectoriesPresent.OK && r.ConfigPresent.OK
}

// Diagnostics собирает Report. Пустая проба считается пройденной с пометкой.
type Diagnostics struct {
	API         Probe
	Printer     Probe
	Directories Probe
	Config      Probe
	Timeout     time.Duration
}

// Run выполняет все пробы.
func (d *Diagnostics) Run(ctx context.Context) Report {
	return Report{
		APIReachable:       d.run(ctx, d.API),
		PrinterPresent:     d.run(ctx, d.Printer),
		DirectoriesPresent: d.run(ctx, d.Directories),
		ConfigPresent:      d.run(ctx, d.Config),
		CheckedAt:          time.Now().UTC(),
	}
}

func (d *Diagnostics) run(ctx context.Context, probe Probe) Item {
	if probe == nil {
		return Item{OK: true, Message: "not checked"}
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := probe(ctx); err != nil {
		return Item{OK: false, Message: err.Error()}
	}
	return Item{OK: true}
}

// DirectoriesProbe проверяет, что все каталоги существуют.
func DirectoriesProbe(dirs ...string) Probe {
	return func(context.Context) error {
		var missing []string
		for _, dir := range dirs {
			info, err := os.Stat(dir)
			if err != nil || !info.IsDir() {
				missing = append(missing, dir)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing directories: %s", strings.Join(missing, ", "))
		}
		return nil
	}
}

// ConfigProbe проверяет, что обязательные значения непустые.
func ConfigProbe(required map[string]string) Probe {
	return func(context.Context) error {
		var missing []string
		for key, value := range required {
			if strings.TrimSpace(value) == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return errors.New("missing config: " + strings.Join(missing, ", "))
		}
		return nil
	}
}

// StatusResponse — тело ответа /status.
type StatusResponse struct {
	Diagnostics Report `json:"diagnostics"`
	Pipeline    any    `json:"pipeline,omitempty"`
	Version     string `json:"version,omitempty"`
}

// StatusHandler отдаёт диагностику и состояние конвейера.
// Код ответа всегда 200: это отчёт, а не проба.
func StatusHandler(diag *Diagnostics, version string, pipeline func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Diagnostics: diag.Run(r.Context()),
			Version:     version,
		}
		if pipeline != nil {
			resp.Pipeline = pipeline()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
