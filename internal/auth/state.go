package auth

import "github.com/hitoshi/tableorder/internal/model"

// Status はテーブルセッションの状態。
//
//	Uninitialized → Authenticating → Authenticated → (Refreshing → Authenticated | LoggedOut)
//	Authenticating → LoggedOut（認証失敗）
type Status string

const (
	StatusUninitialized  Status = "uninitialized"
	StatusAuthenticating Status = "authenticating"
	StatusAuthenticated  Status = "authenticated"
	StatusRefreshing     Status = "refreshing"
	StatusLoggedOut      Status = "logged_out"
)

// State は購読者へ公開するセッション状態のスナップショット。
// 認証情報（パスワード）は含めない。
type State struct {
	Status      Status
	StoreID     string
	TableNumber int
	Session     model.Session
	// Generation は認証・更新の成功とログアウトのたびに増える。
	Generation uint64
}

// HasSession はAPI呼び出しに使えるセッションがあるかを返す。
// 更新中もセッションは有効なまま見える。
func (s State) HasSession() bool {
	return (s.Status == StatusAuthenticated || s.Status == StatusRefreshing) && s.Session.SessionID != ""
}

// action は状態遷移のきっかけ。下記の型で閉じている。
type action interface {
	isAction()
}

type loginStarted struct{}

type loginSucceeded struct {
	storeID     string
	tableNumber int
	session     model.Session
}

type loginFailed struct{}

type refreshStarted struct{}

type refreshSucceeded struct {
	session model.Session
}

type loggedOut struct{}

func (loginStarted) isAction()     {}
func (loginSucceeded) isAction()   {}
func (loginFailed) isAction()      {}
func (refreshStarted) isAction()   {}
func (refreshSucceeded) isAction() {}
func (loggedOut) isAction()        {}

// reduce はsにaを適用した次の状態を返す。許可されない遷移ではsをそのまま返す。
func reduce(s State, a action) State {
	switch a := a.(type) {
	case loginStarted:
		switch s.Status {
		case StatusUninitialized, StatusLoggedOut, StatusAuthenticated:
			// 再設定中も既存のセッション情報は失敗時の復帰用に保持する
			s.Status = StatusAuthenticating
		}
		return s

	case loginSucceeded:
		if s.Status != StatusAuthenticating {
			return s
		}
		return State{
			Status:      StatusAuthenticated,
			StoreID:     a.storeID,
			TableNumber: a.tableNumber,
			Session:     a.session,
			Generation:  s.Generation + 1,
		}

	case loginFailed:
		if s.Status != StatusAuthenticating {
			return s
		}
		if s.Session.SessionID != "" {
			s.Status = StatusAuthenticated
			return s
		}
		return State{Status: StatusLoggedOut, Generation: s.Generation}

	case refreshStarted:
		if s.Status != StatusAuthenticated {
			return s
		}
		s.Status = StatusRefreshing
		return s

	case refreshSucceeded:
		if s.Status != StatusRefreshing {
			return s
		}
		s.Status = StatusAuthenticated
		s.Session = a.session
		s.Generation++
		return s

	case loggedOut:
		if s.Status == StatusLoggedOut {
			return s
		}
		return State{Status: StatusLoggedOut, Generation: s.Generation + 1}
	}
	return s
}
