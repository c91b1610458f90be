package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"lecca.io/mind-watchtower/internal/logger"
	"lecca.io/mind-watchtower/internal/names"
	"lecca.io/mind-watchtower/internal/rpc"
	"lecca.io/mind-watchtower/internal/snapshot"
	"lecca.io/mind-watchtower/internal/utils"
)

type addNameRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type chainDataResponse struct {
	CurrentBlockEpoch       string `json:"currentBlockEpoch"`
	TotalStakedAmount       string `json:"totalStakedAmount"`
	TotalValidatorAddresses int    `json:"totalValidatorAddresses"`
}

func (s *Server) validatorsPayload() []snapshot.ValidatorRecord {
	recs := s.deps.Snapshot.ListAll()
	if recs == nil {
		recs = []snapshot.ValidatorRecord{}
	}
	return recs
}

func (s *Server) handleValidators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, "/validators", http.StatusOK, s.validatorsPayload())
}

func (s *Server) handleAddName(w http.ResponseWriter, r *http.Request) {
	const route = "/addName"

	var req addNameRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		sendBadRequest(w, route, "address and name are required")
		return
	}
	req.Address = strings.TrimSpace(req.Address)
	if req.Address == "" || strings.TrimSpace(req.Name) == "" {
		sendBadRequest(w, route, "address and name are required")
		return
	}
	if !common.IsHexAddress(req.Address) {
		sendBadRequest(w, route, "invalid address")
		return
	}
	addr := common.HexToAddress(req.Address)

	err := s.deps.Names.Put(r.Context(), addr, req.Name)
	switch {
	case errors.Is(err, names.ErrNameExists):
		sendBadRequest(w, route, "Name already exists for this address")
	case err != nil:
		logger.WithFields("API", logrus.Fields{
			"address": addr.Hex(),
			"op":      "addName",
		}).WithError(err).Error("Name store write failed")
		sendServerError(w, route)
	default:
		logger.Info("API", "Name %q assigned to %s", req.Name, addr.Hex())
		writeJSON(w, route, http.StatusOK, successResponse{Success: true})
	}
}

func (s *Server) handleChainData(w http.ResponseWriter, r *http.Request) {
	const route = "/chaindata"

	raw, err := s.deps.Chain.FetchChainSummary(r.Context())
	if err != nil {
		logger.Error("API", "chain summary failed: %v", err)
		sendServerError(w, route)
		return
	}
	epoch, err := utils.DecodeHexQuantity(raw.EpochHex)
	if err != nil {
		logger.Error("API", "chain summary epoch: %v", err)
		sendServerError(w, route)
		return
	}

	writeJSON(w, route, http.StatusOK, chainDataResponse{
		CurrentBlockEpoch:       epoch,
		TotalStakedAmount:       utils.FormatStake(raw.TotalStaked),
		TotalValidatorAddresses: s.deps.Snapshot.Len(),
	})
}

type cycleDTO struct {
	Height    uint64   `json:"height"`
	Started   string   `json:"started"`
	Duration  string   `json:"duration"`
	Listed    int      `json:"listed"`
	Published int      `json:"published"`
	Failed    []string `json:"failed,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type windowDTO struct {
	Failed       int     `json:"failed"`
	Total        int     `json:"total"`
	SuccessRatio float64 `json:"success_ratio"`
	AvgInterval  float64 `json:"avg_interval_seconds"`
	LastInterval float64 `json:"last_interval_seconds"`
	LastSuccess  string  `json:"last_success,omitempty"`
	Recent       []bool  `json:"recent"`
}

type nodeDTO struct {
	Label       string `json:"label"`
	RpcUrl      string `json:"rpc_url"`
	WsUrl       string `json:"ws_url"`
	Healthy     bool   `json:"healthy"`
	BlockHeight uint64 `json:"block_height"`
	Syncing     bool   `json:"syncing"`
	Latency     string `json:"latency"`
	LastError   string `json:"last_error,omitempty"`
	LastCheck   string `json:"last_check"`
}

type statusDTO struct {
	State      string     `json:"state"`
	Validators int        `json:"validators"`
	Names      *int       `json:"names,omitempty"`
	LastCycle  *cycleDTO  `json:"last_cycle,omitempty"`
	Window     *windowDTO `json:"window,omitempty"`
	Nodes      []nodeDTO  `json:"nodes"`
}

// recentOutcomes caps the bitmap returned by /status.
const recentOutcomes = 100

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := statusDTO{
		State:      "unknown",
		Validators: s.deps.Snapshot.Len(),
		Nodes:      []nodeDTO{},
	}

	if counter, ok := s.deps.Names.(NameCounter); ok {
		if count, err := counter.Count(); err == nil {
			status.Names = &count
		} else {
			logger.Warn("API", "name count failed: %v", err)
		}
	}

	if p := s.deps.Pipeline; p != nil {
		status.State = p.State().String()
		if res, ok := p.LastResult(); ok {
			c := &cycleDTO{
				Height:    res.Height,
				Started:   res.Started.Format(time.RFC3339),
				Duration:  res.Duration.String(),
				Listed:    res.Listed,
				Published: res.Published,
			}
			for _, fe := range res.Failed {
				c.Failed = append(c.Failed, fe.Error())
			}
			if res.Err != nil {
				c.Error = res.Err.Error()
			}
			status.LastCycle = c
		}
	}

	if win := s.deps.Window; win != nil {
		failed, total, ratio := win.Stats()
		wd := &windowDTO{
			Failed:       failed,
			Total:        total,
			AvgInterval:  win.AvgIntervalLastN(recentOutcomes).Seconds(),
			LastInterval: win.LastInterval().Seconds(),
			Recent:       win.Bitmap(),
		}
		if total > 0 {
			wd.SuccessRatio = 1.0 - ratio
		}
		if len(wd.Recent) > recentOutcomes {
			wd.Recent = wd.Recent[len(wd.Recent)-recentOutcomes:]
		}
		if ts, ok := win.LastSuccess(); ok {
			wd.LastSuccess = ts.Format(time.RFC3339)
		}
		status.Window = wd
	}

	if s.deps.Nodes != nil {
		for _, n := range s.deps.Nodes.GetNodes() {
			st := n.GetStatus()
			status.Nodes = append(status.Nodes, nodeDTO{
				Label:       n.Config.Label,
				RpcUrl:      rpc.RedactURL(n.Config.RPC),
				WsUrl:       rpc.RedactURL(n.Config.WS),
				Healthy:     st.Healthy,
				BlockHeight: st.BlockHeight,
				Syncing:     st.Syncing,
				Latency:     st.Latency.String(),
				LastError:   n.LastErrorText(),
				LastCheck:   st.LastCheck.Format(time.RFC3339),
			})
		}
	}

	writeJSON(w, "/status", http.StatusOK, status)
}
