package api

import (
	"net/http"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// Port is one locally listening TCP port, candidate for the preview
// proxy.
type Port struct {
	Port    int    `json:"port"`
	Command string `json:"command"`
	PID     int    `json:"pid"`
}

// GetPorts handles GET /api/ports — enumerates listening TCP ports via
// lsof so the client can offer dev servers for preview. A host without
// lsof yields an empty list, not an error.
func (h *Handlers) GetPorts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ports": listeningPorts()})
}

func listeningPorts() []Port {
	out, err := exec.Command("lsof", "-iTCP", "-sTCP:LISTEN", "-P", "-n").Output()
	if err != nil {
		return []Port{}
	}

	seen := make(map[int]bool)
	ports := make([]Port, 0)
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 9 || fields[0] == "COMMAND" {
			continue
		}
		name := fields[len(fields)-2]
		if !strings.Contains(name, ":") {
			// "(LISTEN)" is the last column; the address is second
			// to last unless lsof omitted a column.
			name = fields[len(fields)-1]
		}
		idx := strings.LastIndex(name, ":")
		if idx < 0 {
			continue
		}
		port, err := strconv.Atoi(name[idx+1:])
		if err != nil || seen[port] {
			continue
		}
		seen[port] = true

		pid, _ := strconv.Atoi(fields[1])
		ports = append(ports, Port{Port: port, Command: fields[0], PID: pid})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Port < ports[j].Port })
	return ports
}
