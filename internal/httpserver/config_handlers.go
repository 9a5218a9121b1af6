package httpserver

import (
	"net/http"
	"sort"
	"strings"

	"github.com/callanalyzer/tenantconfig/internal/hooks"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	agg, err := s.store.LoadConfig(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, agg)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	var desired tenantcfg.Aggregate
	if err := decodeJSON(w, r, &desired); err != nil {
		s.respondError(w, r, err)
		return
	}
	agg, err := s.update(r.Context(), userID, "config", func(a *tenantcfg.Aggregate) error {
		*a = desired
		return nil
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, agg)
}

// StationView is a station with its notification chats and sub-stations.
type StationView struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	ChatIDs     []string `json:"chat_ids"`
	SubStations []string `json:"sub_stations"`
}

type stationsBody struct {
	Stations           []StationView `json:"stations"`
	RegionStationCodes *[]string     `json:"nizh_station_codes,omitempty"`
}

func stationViews(agg *tenantcfg.Aggregate) []StationView {
	chats := make(map[string][]string)
	for _, c := range agg.StationChatIDs {
		chats[c.StationCode] = append(chats[c.StationCode], c.ChatID)
	}
	subs := make(map[string][]string)
	for _, m := range agg.StationMappings {
		subs[m.MainStationCode] = append(subs[m.MainStationCode], m.SubStationCode)
	}
	views := make([]StationView, 0, len(agg.Stations))
	for _, st := range agg.Stations {
		v := StationView{Code: st.Code, Name: st.Name, ChatIDs: chats[st.Code], SubStations: subs[st.Code]}
		if v.ChatIDs == nil {
			v.ChatIDs = []string{}
		}
		if v.SubStations == nil {
			v.SubStations = []string{}
		}
		sort.Strings(v.ChatIDs)
		sort.Strings(v.SubStations)
		views = append(views, v)
	}
	return views
}

func (s *Server) handleGetStations(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	agg, err := s.store.LoadConfig(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stationsBody{
		Stations:           stationViews(agg),
		RegionStationCodes: (*[]string)(&agg.Config.RegionStationCodes),
	})
}

// handlePutStations replaces the station registry together with the
// mappings and chat ids derived from it. Mappings and chat ids that point at
// codes which were never registered are not part of the view, so they are
// carried over unchanged.
func (s *Server) handlePutStations(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	var body stationsBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	agg, err := s.update(r.Context(), userID, "stations", func(a *tenantcfg.Aggregate) error {
		visible := make(map[string]bool, len(a.Stations)+len(body.Stations))
		for _, st := range a.Stations {
			visible[st.Code] = true
		}
		for _, v := range body.Stations {
			visible[strings.TrimSpace(v.Code)] = true
		}
		mappings, chats := a.StationMappings, a.StationChatIDs
		a.StationMappings = nil
		a.StationChatIDs = nil
		for _, m := range mappings {
			if !visible[m.MainStationCode] {
				a.StationMappings = append(a.StationMappings, m)
			}
		}
		for _, c := range chats {
			if !visible[c.StationCode] {
				a.StationChatIDs = append(a.StationChatIDs, c)
			}
		}

		a.Stations = make([]tenantcfg.Station, 0, len(body.Stations))
		for _, v := range body.Stations {
			code := strings.TrimSpace(v.Code)
			a.Stations = append(a.Stations, tenantcfg.Station{Code: code, Name: v.Name})
			for _, sub := range v.SubStations {
				a.StationMappings = append(a.StationMappings, tenantcfg.StationMapping{MainStationCode: code, SubStationCode: sub})
			}
			for _, chat := range v.ChatIDs {
				a.StationChatIDs = append(a.StationChatIDs, tenantcfg.StationChatID{StationCode: code, ChatID: chat})
			}
		}
		if body.RegionStationCodes != nil {
			a.Config.RegionStationCodes = tenantcfg.StringList(*body.RegionStationCodes)
		}
		return nil
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stationsBody{
		Stations:           stationViews(agg),
		RegionStationCodes: (*[]string)(&agg.Config.RegionStationCodes),
	})
}

func (s *Server) handleAddStation(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	var st tenantcfg.Station
	if err := decodeJSON(w, r, &st); err != nil {
		s.respondError(w, r, err)
		return
	}
	st.Code = strings.TrimSpace(st.Code)
	if err := s.store.AddStation(r.Context(), userID, st); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.emit(r.Context(), hooks.EventStationAdded, userID, map[string]any{"code": st.Code})
	s.respondJSON(w, http.StatusCreated, st)
}

type promptsBody struct {
	Prompts []tenantcfg.Prompt `json:"prompts"`
}

func (s *Server) handleGetPrompts(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	agg, err := s.store.LoadConfig(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, promptsBody{Prompts: nonNil(agg.Prompts)})
}

func (s *Server) handlePutPrompts(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	var body promptsBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	agg, err := s.update(r.Context(), userID, "prompts", func(a *tenantcfg.Aggregate) error {
		a.Prompts = body.Prompts
		return nil
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, promptsBody{Prompts: nonNil(agg.Prompts)})
}

func (s *Server) handleGetVocabulary(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	agg, err := s.store.LoadConfig(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, agg.Vocabulary)
}

func (s *Server) handlePutVocabulary(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	var vocab tenantcfg.Vocabulary
	if err := decodeJSON(w, r, &vocab); err != nil {
		s.respondError(w, r, err)
		return
	}
	agg, err := s.update(r.Context(), userID, "vocabulary", func(a *tenantcfg.Aggregate) error {
		a.Vocabulary = vocab
		return nil
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, agg.Vocabulary)
}

func (s *Server) handleGetScriptPrompt(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	agg, err := s.store.LoadConfig(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, agg.ScriptPrompt)
}

func (s *Server) handlePutScriptPrompt(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	var sp tenantcfg.ScriptPrompt
	if err := decodeJSON(w, r, &sp); err != nil {
		s.respondError(w, r, err)
		return
	}
	agg, err := s.update(r.Context(), userID, "script_prompt", func(a *tenantcfg.Aggregate) error {
		a.ScriptPrompt = sp
		return nil
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, agg.ScriptPrompt)
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
