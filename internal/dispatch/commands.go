package dispatch

import (
	"strconv"
	"time"

	"github.com/qls-chat/qls-server/internal/grouproom"
	"github.com/qls-chat/qls-server/internal/identity"
	"github.com/qls-chat/qls-server/internal/msg"
	"github.com/qls-chat/qls-server/internal/qlserrors"
	"github.com/qls-chat/qls-server/internal/sanitize"
	"github.com/qls-chat/qls-server/internal/session"
	"github.com/qls-chat/qls-server/internal/user"
)

// builtinCommands is the full command table: the core request/response
// inventory plus the group-moderation and message-history commands
// supplemented from the original C++ implementation.
var builtinCommands = []Command{
	{
		Name:   "login",
		Params: []ParamSpec{{Name: "user_id", Type: TypeInt}, {Name: "password", Type: TypeString}, {Name: "device", Type: TypeString}},
		Handler: func(d *Dispatcher, s *session.Session, _ identity.UserID, p Params) (Result, error) {
			id := identity.UserID(p.num("user_id"))
			u, ok := d.mgr.GetUser(id)
			if !ok {
				return nil, qlserrors.ErrUserNotExisted
			}
			if err := u.VerifyPassword(p.str("password")); err != nil {
				return nil, err
			}
			device := user.ParseDeviceType(p.str("device"))
			if err := s.Login(id, device); err != nil {
				return nil, err
			}
			return Result{"message": "Successfully logged in!"}, nil
		},
	},
	{
		Name:   "register",
		Params: []ParamSpec{{Name: "email", Type: TypeString}, {Name: "password", Type: TypeString}},
		Handler: func(d *Dispatcher, _ *session.Session, _ identity.UserID, p Params) (Result, error) {
			id, err := d.mgr.AddNewUser("", p.str("email"), p.str("password"))
			if err != nil {
				return nil, err
			}
			return Result{"user_id": int64(id), "message": "Successfully created a new user!"}, nil
		},
	},
	{
		Name:   "has_user",
		Params: []ParamSpec{{Name: "user_id", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, _ identity.UserID, p Params) (Result, error) {
			return Result{"exists": d.mgr.HasUser(identity.UserID(p.num("user_id")))}, nil
		},
	},
	{
		Name:   "search_user",
		Params: []ParamSpec{{Name: "user_name", Type: TypeString}},
		Handler: func(d *Dispatcher, _ *session.Session, _ identity.UserID, p Params) (Result, error) {
			// Reserved: no search index exists yet.
			return Result{"results": []int64{}}, nil
		},
	},
	{
		Name:          "add_friend",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "user_id", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			return nil, d.mgr.VerificationEngine().AddFriend(caller, identity.UserID(p.num("user_id")))
		},
	},
	{
		Name:          "accept_friend_verification",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "user_id", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			return nil, d.mgr.VerificationEngine().AcceptFriend(caller, identity.UserID(p.num("user_id")))
		},
	},
	{
		Name:          "reject_friend_verification",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "user_id", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			return nil, d.mgr.VerificationEngine().RejectFriend(caller, identity.UserID(p.num("user_id")))
		},
	},
	{
		Name:          "remove_friend",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "user_id", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			return nil, d.mgr.RemoveFriend(caller, identity.UserID(p.num("user_id")))
		},
	},
	{
		Name:          "get_friend_list",
		RequiresLogin: true,
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, _ Params) (Result, error) {
			u, ok := d.mgr.GetUser(caller)
			if !ok {
				return nil, qlserrors.ErrUserNotExisted
			}
			return Result{"friends": u.Friends()}, nil
		},
	},
	{
		Name:          "get_friend_verification_list",
		RequiresLogin: true,
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, _ Params) (Result, error) {
			return Result{"verifications": d.mgr.VerificationEngine().FriendVerificationsFor(caller)}, nil
		},
	},
	{
		Name:          "create_group",
		RequiresLogin: true,
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, _ Params) (Result, error) {
			id, err := d.mgr.CreateGroup(caller)
			if err != nil {
				return nil, err
			}
			return Result{"group_id": int64(id)}, nil
		},
	},
	{
		Name:          "add_group",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "group_id", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			return nil, d.mgr.VerificationEngine().AddGroup(identity.GroupID(p.num("group_id")), caller)
		},
	},
	{
		Name:          "accept_group_verification",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "group_id", Type: TypeInt}, {Name: "user_id", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			groupID := identity.GroupID(p.num("group_id"))
			if err := requireAdmin(d, caller, groupID); err != nil {
				return nil, err
			}
			return nil, d.mgr.VerificationEngine().AcceptGroup(groupID, identity.UserID(p.num("user_id")), true)
		},
	},
	{
		Name:          "reject_group_verification",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "group_id", Type: TypeInt}, {Name: "user_id", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			groupID := identity.GroupID(p.num("group_id"))
			if err := requireAdmin(d, caller, groupID); err != nil {
				return nil, err
			}
			return nil, d.mgr.VerificationEngine().RejectGroup(groupID, identity.UserID(p.num("user_id")))
		},
	},
	{
		Name:          "leave_group",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "group_id", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			return nil, d.mgr.LeaveGroup(caller, identity.GroupID(p.num("group_id")))
		},
	},
	{
		Name:          "remove_group",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "group_id", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			return nil, d.mgr.RemoveGroup(caller, identity.GroupID(p.num("group_id")))
		},
	},
	{
		Name:          "get_group_list",
		RequiresLogin: true,
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, _ Params) (Result, error) {
			u, ok := d.mgr.GetUser(caller)
			if !ok {
				return nil, qlserrors.ErrUserNotExisted
			}
			return Result{"groups": u.Groups()}, nil
		},
	},
	{
		Name:          "get_group_verification_list",
		RequiresLogin: true,
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, _ Params) (Result, error) {
			return Result{"verifications": d.mgr.VerificationEngine().GroupVerificationsFor(caller)}, nil
		},
	},
	{
		Name:          "send_friend_message",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "user_id", Type: TypeInt}, {Name: "message", Type: TypeString}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			pr, ok := d.mgr.GetPrivateRoom(caller, identity.UserID(p.num("user_id")))
			if !ok {
				return nil, qlserrors.ErrPrivateRoomNotExisted
			}
			return nil, pr.SendMessage(caller, sanitize.Text(p.str("message")))
		},
	},
	{
		Name:          "send_group_message",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "group_id", Type: TypeInt}, {Name: "message", Type: TypeString}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			gr, ok := d.mgr.GetGroupRoom(identity.GroupID(p.num("group_id")))
			if !ok {
				return nil, qlserrors.ErrGroupRoomNotExisted
			}
			return nil, gr.SendMessage(caller, sanitize.Text(p.str("message")))
		},
	},

	// Supplemented from the original C++ implementation.
	{
		Name:          "get_group_members",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "group_id", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			gr, ok := d.mgr.GetGroupRoom(identity.GroupID(p.num("group_id")))
			if !ok {
				return nil, qlserrors.ErrGroupRoomNotExisted
			}
			if !gr.HasMember(caller) {
				return nil, qlserrors.ErrPermissionDenied
			}
			members := make(map[string]grouproom.Member)
			for id, info := range gr.MemberList() {
				members[idKey(id)] = info
			}
			return Result{"members": members}, nil
		},
	},
	{
		Name:          "mute_group_member",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "group_id", Type: TypeInt}, {Name: "user_id", Type: TypeInt}, {Name: "minutes", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			gr, ok := d.mgr.GetGroupRoom(identity.GroupID(p.num("group_id")))
			if !ok {
				return nil, qlserrors.ErrGroupRoomNotExisted
			}
			return nil, gr.Mute(caller, identity.UserID(p.num("user_id")), time.Duration(p.num("minutes"))*time.Minute)
		},
	},
	{
		Name:          "unmute_group_member",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "group_id", Type: TypeInt}, {Name: "user_id", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			gr, ok := d.mgr.GetGroupRoom(identity.GroupID(p.num("group_id")))
			if !ok {
				return nil, qlserrors.ErrGroupRoomNotExisted
			}
			return nil, gr.Unmute(caller, identity.UserID(p.num("user_id")))
		},
	},
	{
		Name:          "kick_group_member",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "group_id", Type: TypeInt}, {Name: "user_id", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			gr, ok := d.mgr.GetGroupRoom(identity.GroupID(p.num("group_id")))
			if !ok {
				return nil, qlserrors.ErrGroupRoomNotExisted
			}
			return nil, gr.Kick(caller, identity.UserID(p.num("user_id")))
		},
	},
	{
		Name:          "set_group_operator",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "group_id", Type: TypeInt}, {Name: "user_id", Type: TypeInt}, {Name: "op", Type: TypeBool}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			gr, ok := d.mgr.GetGroupRoom(identity.GroupID(p.num("group_id")))
			if !ok {
				return nil, qlserrors.ErrGroupRoomNotExisted
			}
			target := identity.UserID(p.num("user_id"))
			if p.bit("op") {
				return nil, gr.AddOperator(caller, target)
			}
			return nil, gr.RemoveOperator(caller, target)
		},
	},
	{
		Name:          "transfer_group_admin",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "group_id", Type: TypeInt}, {Name: "user_id", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			groupID := identity.GroupID(p.num("group_id"))
			if err := requireAdmin(d, caller, groupID); err != nil {
				return nil, err
			}
			gr, ok := d.mgr.GetGroupRoom(groupID)
			if !ok {
				return nil, qlserrors.ErrGroupRoomNotExisted
			}
			return nil, gr.SetAdministrator(identity.UserID(p.num("user_id")))
		},
	},
	{
		Name:          "get_group_messages",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "group_id", Type: TypeInt}, {Name: "from_ms", Type: TypeInt}, {Name: "to_ms", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			gr, ok := d.mgr.GetGroupRoom(identity.GroupID(p.num("group_id")))
			if !ok {
				return nil, qlserrors.ErrGroupRoomNotExisted
			}
			if !gr.HasMember(caller) {
				return nil, qlserrors.ErrPermissionDenied
			}
			entries := gr.GetMessages(msg.Timestamp(p.num("from_ms")), msg.Timestamp(p.num("to_ms")))
			return Result{"messages": entries}, nil
		},
	},
	{
		Name:          "get_friend_messages",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "user_id", Type: TypeInt}, {Name: "from_ms", Type: TypeInt}, {Name: "to_ms", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			pr, ok := d.mgr.GetPrivateRoom(caller, identity.UserID(p.num("user_id")))
			if !ok {
				return nil, qlserrors.ErrPrivateRoomNotExisted
			}
			entries := pr.GetMessages(msg.Timestamp(p.num("from_ms")), msg.Timestamp(p.num("to_ms")))
			return Result{"messages": entries}, nil
		},
	},
	{
		Name:          "send_group_tip",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "group_id", Type: TypeInt}, {Name: "message", Type: TypeString}, {Name: "target_user_id", Type: TypeInt}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			gr, ok := d.mgr.GetGroupRoom(identity.GroupID(p.num("group_id")))
			if !ok {
				return nil, qlserrors.ErrGroupRoomNotExisted
			}
			body := sanitize.Text(p.str("message"))
			if target := identity.UserID(p.num("target_user_id")); target != 0 {
				return nil, gr.SendUserTip(caller, body, target)
			}
			return nil, gr.SendTip(caller, body)
		},
	},
	{
		Name:          "change_password",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "old_password", Type: TypeString}, {Name: "new_password", Type: TypeString}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			return nil, d.mgr.ChangePassword(caller, p.str("old_password"), p.str("new_password"))
		},
	},
	{
		Name:          "update_profile",
		RequiresLogin: true,
		Params:        []ParamSpec{{Name: "profile", Type: TypeString}},
		Handler: func(d *Dispatcher, _ *session.Session, caller identity.UserID, p Params) (Result, error) {
			u, ok := d.mgr.GetUser(caller)
			if !ok {
				return nil, qlserrors.ErrUserNotExisted
			}
			u.SetProfile(sanitize.Text(p.str("profile")))
			return nil, nil
		},
	},
}

func requireAdmin(d *Dispatcher, caller identity.UserID, groupID identity.GroupID) error {
	gr, ok := d.mgr.GetGroupRoom(groupID)
	if !ok {
		return qlserrors.ErrGroupRoomNotExisted
	}
	if gr.Administrator() != caller {
		return qlserrors.ErrPermissionDenied
	}
	return nil
}

func idKey(id identity.UserID) string {
	return strconv.FormatInt(int64(id), 10)
}
