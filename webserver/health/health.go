package health

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	log "github.com/iidesho/bragi/sbragi"

	"github.com/iidesho/aggregates/syncmap"
)

var Version string
var BuildTime string
var Name string

// Check reports whether a dependency of the service is usable.
type Check func(ctx context.Context) error

type health struct {
	IP    net.IP
	Since time.Time

	checks syncmap.SyncMap[string, Check]
}

func Init() *health {
	return &health{
		IP:     GetOutboundIP(),
		Since:  time.Now(),
		checks: syncmap.New[string, Check](),
	}
}

type Report struct {
	Status    string            `json:"status"`
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	BuildTime string            `json:"build_time"`
	IP        net.IP            `json:"ip"`
	Since     time.Time         `json:"running_since"`
	Now       time.Time         `json:"now"`
	Checks    map[string]string `json:"checks,omitempty"`
}

var ip net.IP

func GetOutboundIP() net.IP {
	if ip != nil {
		return ip
	}
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		log.WithError(err).Error("unable to get outbound ip")
		return nil
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	ip = localAddr.IP

	return ip
}

// AddCheck registers c under name, replacing any earlier check with that name.
func (h *health) AddCheck(name string, c Check) {
	h.checks.Set(name, c)
}

func (h *health) GetHealthReport(ctx context.Context) Report {
	checks := h.checks.GetMap()
	r := Report{
		Status:    "UP",
		Name:      Name,
		Version:   Version,
		BuildTime: BuildTime,
		IP:        h.IP,
		Since:     h.Since,
		Now:       time.Now(),
	}
	if len(checks) == 0 {
		return r
	}
	r.Checks = make(map[string]string, len(checks))
	for name, check := range checks {
		err := check(ctx)
		if err != nil {
			log.WithError(err).Warning("health check failed", "check", name)
			r.Status = "DOWN"
			r.Checks[name] = err.Error()
			continue
		}
		r.Checks[name] = "UP"
	}
	return r
}

func (h *health) WriteHealthReport(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()
	r := h.GetHealthReport(ctx)
	status := http.StatusOK
	if r.Status != "UP" {
		status = http.StatusServiceUnavailable
	}
	return c.Status(status).JSON(r)
}
