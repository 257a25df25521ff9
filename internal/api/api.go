// Package api is the HTTP surface of the engine. Front ends (chat-platform
// adapters) call it to drive sessions and receive state changes back through
// the redis pubsub notifications.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/harrow/internal/challenge"
	"github.com/victornm/harrow/internal/domain"
	"github.com/victornm/harrow/internal/errors"
	"github.com/victornm/harrow/internal/event"
	"github.com/victornm/harrow/internal/game"
	"github.com/victornm/harrow/internal/identity"
	"github.com/victornm/harrow/internal/router"
	"github.com/victornm/harrow/internal/solo"
)

type Config struct {
	Engine       *gin.Engine
	EventBus     *event.Bus
	Challenge    *challenge.Service
	Game         *game.Service
	Solo         *solo.Service
	Identity     *identity.Service
	Relay        *router.Router
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	cs     *challenge.Service
	gs     *game.Service
	ss     *solo.Service
	ids    *identity.Service
	relay  *router.Router
	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		cs:     c.Challenge,
		gs:     c.Game,
		ss:     c.Solo,
		ids:    c.Identity,
		relay:  c.Relay,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	a.registerRoutes(c.Engine)
	a.registerNotifications(c.EventBus)

	return a
}

func (a *API) registerRoutes(e *gin.Engine) {
	v1 := e.Group("/v1")

	v1.GET("/challenge-types", a.listChallengeTypes)
	v1.POST("/challenges", a.proposeChallenge)
	v1.POST("/challenges/:id/accept", a.acceptChallenge)
	v1.POST("/challenges/:id/decline", a.declineChallenge)
	v1.POST("/challenges/end", a.endChallenge)

	v1.POST("/messages", a.routeMessage)

	v1.GET("/game-modes", a.listGameModes)
	v1.POST("/games", a.startGame)
	v1.POST("/games/join", a.joinGame)
	v1.POST("/games/answers", a.answerGame)
	v1.POST("/games/high-risk", a.invokeHighRisk)
	v1.GET("/games/:channel/standings", a.gameStandings)
	v1.POST("/games/end", a.endGame)

	v1.POST("/solo/submissions", a.submitSolo)
	v1.GET("/solo/:channel/leaderboard", a.soloLeaderboard)
	v1.POST("/solo/end", a.endSolo)

	v1.POST("/endpoints", a.provisionEndpoint)
	v1.POST("/logging-channels", a.setLoggingChannel)
	v1.GET("/logging-channels/:community", a.getLoggingChannel)
}

func respondErr(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), gin.H{"error": e})
}

type userPayload struct {
	ID          string `json:"id" binding:"required"`
	DisplayName string `json:"display_name"`
}

func (u userPayload) domain() domain.User {
	return domain.User{ID: u.ID, DisplayName: u.DisplayName}
}

func (a *API) listChallengeTypes(c *gin.Context) {
	types := make([]gin.H, 0)
	for _, name := range domain.ChallengeConfigNames() {
		cfg, _ := domain.ChallengeConfigByName(name)
		types = append(types, gin.H{
			"key":            name,
			"name":           cfg.Name,
			"description":    cfg.Description,
			"correct_points": cfg.CorrectPoints,
			"wrong_points":   cfg.WrongPoints,
			"time_limit":     cfg.TimeLimit,
		})
	}
	c.JSON(http.StatusOK, gin.H{"challenge_types": types})
}

func (a *API) proposeChallenge(c *gin.Context) {
	var req struct {
		Challenger      userPayload `json:"challenger" binding:"required"`
		Challenged      userPayload `json:"challenged" binding:"required"`
		Type            string      `json:"type" binding:"required"`
		ResourceCode    string      `json:"resource_code" binding:"required"`
		OriginChannelID string      `json:"origin_channel_id"`
		CommunityID     string      `json:"community_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ch, err := a.cs.Propose(c.Request.Context(), challenge.ProposeRequest{
		Challenger:      req.Challenger.domain(),
		Challenged:      req.Challenged.domain(),
		ConfigName:      req.Type,
		ResourceCode:    req.ResourceCode,
		OriginChannelID: req.OriginChannelID,
		CommunityID:     req.CommunityID,
	})
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"challenge": challengePayload(ch)})
}

func (a *API) acceptChallenge(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ch, err := a.cs.Accept(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"challenge": challengePayload(ch)})
}

func (a *API) declineChallenge(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := a.cs.Decline(c.Request.Context(), c.Param("id"), req.UserID); err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"declined": true})
}

func (a *API) endChallenge(c *gin.Context) {
	var req struct {
		ChannelID string `json:"channel_id"`
		UserID    string `json:"user_id" binding:"required"`
		Moderator bool   `json:"moderator"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	res, err := a.cs.End(c.Request.Context(), challenge.EndRequest{
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		Moderator: req.Moderator,
	})
	if err != nil {
		respondErr(c, err)
		return
	}

	resp := gin.H{"challenge": challengePayload(&res.Challenge)}
	if res.Winner != nil {
		resp["winner"] = scoreboardPayload(*res.Winner)
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) routeMessage(c *gin.Context) {
	var req struct {
		Text       string `json:"text" binding:"required"`
		ChannelID  string `json:"channel_id" binding:"required"`
		AuthorID   string `json:"author_id"`
		EndpointID string `json:"endpoint_id"`
		Indirect   bool   `json:"indirect"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	out := a.relay.Route(c.Request.Context(), router.Message{
		Text:       req.Text,
		ChannelID:  req.ChannelID,
		AuthorID:   req.AuthorID,
		EndpointID: req.EndpointID,
		Indirect:   req.Indirect,
	})

	resp := gin.H{"scored": out.Scored}
	if !out.Scored {
		resp["reason"] = string(out.Reason)
	}
	if out.Player != nil {
		resp["player"] = scoreboardPayload(*out.Player)
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) listGameModes(c *gin.Context) {
	modes := make([]gin.H, 0)
	for _, key := range domain.GameModeKeys() {
		m, _ := domain.GameModeByKey(key)
		modes = append(modes, gin.H{
			"key":        m.Key,
			"name":       m.Name,
			"time_limit": m.TimeLimit,
		})
	}
	c.JSON(http.StatusOK, gin.H{"game_modes": modes})
}

func (a *API) startGame(c *gin.Context) {
	var req struct {
		ChannelID string `json:"channel_id" binding:"required"`
		Mode      string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	g, err := a.gs.Start(c.Request.Context(), req.ChannelID, req.Mode)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"channel_id": g.ChannelID,
		"mode":       g.Mode.Key,
	})
}

func (a *API) joinGame(c *gin.Context) {
	var req struct {
		ChannelID string      `json:"channel_id" binding:"required"`
		User      userPayload `json:"user" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	p, err := a.gs.Join(c.Request.Context(), req.ChannelID, req.User.domain())
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"player": gamePlayerPayload(*p)})
}

func (a *API) answerGame(c *gin.Context) {
	var req struct {
		ChannelID string `json:"channel_id" binding:"required"`
		UserID    string `json:"user_id" binding:"required"`
		Correct   *bool  `json:"correct" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	p, err := a.gs.Answer(c.Request.Context(), req.ChannelID, req.UserID, *req.Correct)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"player": gamePlayerPayload(*p)})
}

func (a *API) invokeHighRisk(c *gin.Context) {
	var req struct {
		ChannelID string `json:"channel_id" binding:"required"`
		UserID    string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	p, err := a.gs.InvokeHighRisk(c.Request.Context(), req.ChannelID, req.UserID)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"player": gamePlayerPayload(*p)})
}

func (a *API) gameStandings(c *gin.Context) {
	standings, err := a.gs.Standings(c.Request.Context(), c.Param("channel"))
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"standings": gamePlayersPayload(standings)})
}

func (a *API) endGame(c *gin.Context) {
	var req struct {
		ChannelID string `json:"channel_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	final, err := a.gs.End(c.Request.Context(), req.ChannelID)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"standings": gamePlayersPayload(final)})
}

func (a *API) submitSolo(c *gin.Context) {
	var req struct {
		ChannelID    string      `json:"channel_id" binding:"required"`
		User         userPayload `json:"user" binding:"required"`
		ResourceCode string      `json:"resource_code" binding:"required"`
		Correct      *int        `json:"correct" binding:"required"`
		Total        int         `json:"total" binding:"required"`
		Title        string      `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	p, err := a.ss.Submit(c.Request.Context(), solo.SubmitRequest{
		ChannelID:    req.ChannelID,
		User:         req.User.domain(),
		ResourceCode: req.ResourceCode,
		Correct:      *req.Correct,
		Total:        req.Total,
		Title:        req.Title,
	})
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"participant": soloParticipantPayload(*p)})
}

func (a *API) soloLeaderboard(c *gin.Context) {
	ranked, err := a.ss.Leaderboard(c.Request.Context(), c.Param("channel"))
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"leaderboard": soloParticipantsPayload(ranked)})
}

func (a *API) endSolo(c *gin.Context) {
	var req struct {
		ChannelID string `json:"channel_id" binding:"required"`
		UserID    string `json:"user_id" binding:"required"`
		Moderator bool   `json:"moderator"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	final, err := a.ss.End(c.Request.Context(), solo.EndRequest{
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		Moderator: req.Moderator,
	})
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"standings": soloParticipantsPayload(final)})
}

func (a *API) provisionEndpoint(c *gin.Context) {
	var req struct {
		UserID      string `json:"user_id" binding:"required"`
		CommunityID string `json:"community_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ep, err := a.ids.GetOrProvisionEndpoint(c.Request.Context(), req.UserID, req.CommunityID)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"endpoint": gin.H{
		"endpoint_id":  ep.EndpointID,
		"user_id":      ep.UserID,
		"community_id": ep.CommunityID,
		"url":          ep.URL,
	}})
}

func (a *API) setLoggingChannel(c *gin.Context) {
	var req struct {
		CommunityID string `json:"community_id" binding:"required"`
		ChannelID   string `json:"channel_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := a.ids.SetLoggingChannel(c.Request.Context(), req.CommunityID, req.ChannelID); err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"community_id": req.CommunityID, "channel_id": req.ChannelID})
}

func (a *API) getLoggingChannel(c *gin.Context) {
	community := c.Param("community")
	ch, ok := a.ids.LoggingChannel(community)
	if !ok {
		respondErr(c, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no logging channel recorded for community %s", community)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"community_id": community, "channel_id": ch})
}
