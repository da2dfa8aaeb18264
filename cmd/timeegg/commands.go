package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/timeegg/timeegg-server/internal/client"
	"github.com/timeegg/timeegg-server/internal/client/discovery"
	roomclient "github.com/timeegg/timeegg-server/internal/client/waitingroom"
	"github.com/timeegg/timeegg-server/internal/geo"
	"github.com/timeegg/timeegg-server/internal/media"
)

func credentials(fs *pflag.FlagSet) {
	fs.String("email", "", "account email")
	fs.String("password", "", "account password")
}

func location(fs *pflag.FlagSet) {
	fs.Float64("lat", 0, "latitude")
	fs.Float64("lng", 0, "longitude")
}

func str(e *env, name string) string {
	v, _ := e.flags.GetString(name)
	return v
}

func num(e *env, name string) float64 {
	v, _ := e.flags.GetFloat64(name)
	return v
}

func integer(e *env, name string) int {
	v, _ := e.flags.GetInt(name)
	return v
}

func flag(e *env, name string) bool {
	v, _ := e.flags.GetBool(name)
	return v
}

func point(e *env) geo.Point { return geo.Point{Lat: num(e, "lat"), Lng: num(e, "lng")} }

func idArg(e *env, i int) (uint64, error) {
	id, err := strconv.ParseUint(e.args[i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", e.args[i])
	}
	return id, nil
}

var commands = map[string]command{
	"register": {
		usage: "create an account and sign in",
		flags: func(fs *pflag.FlagSet) { credentials(fs); fs.String("nickname", "", "display name") },
		run: func(ctx context.Context, e *env) error {
			u, err := e.api.Register(ctx, str(e, "email"), str(e, "password"), str(e, "nickname"))
			if err != nil {
				return err
			}
			return e.print(u)
		},
	},
	"login": {
		usage: "sign in and store the session",
		flags: credentials,
		run: func(ctx context.Context, e *env) error {
			u, err := e.api.Login(ctx, str(e, "email"), str(e, "password"))
			if err != nil {
				return err
			}
			return e.print(u)
		},
	},
	"logout": {
		usage: "revoke and forget the stored session",
		run:   func(ctx context.Context, e *env) error { return e.api.Logout(ctx) },
	},
	"me": {
		usage: "show the signed-in user",
		run: func(ctx context.Context, e *env) error {
			u, err := e.api.Me(ctx)
			if err != nil {
				return err
			}
			return e.print(u)
		},
	},

	"order": {
		usage: "create an order for a waiting room",
		flags: func(fs *pflag.FlagSet) {
			fs.String("option", "1_WEEK", "time option")
			fs.Int("headcount", 1, "participants including the host")
			fs.Int("photos", 1, "photos per participant")
			fs.Bool("music", false, "allow music")
			fs.Bool("video", false, "allow video")
		},
		run: func(ctx context.Context, e *env) error {
			o, err := e.api.CreateOrder(ctx, client.OrderRequest{
				TimeOption: str(e, "option"), Headcount: integer(e, "headcount"),
				PhotoCount: integer(e, "photos"), AddMusic: flag(e, "music"), AddVideo: flag(e, "video"),
			})
			if err != nil {
				return err
			}
			return e.print(o)
		},
	},
	"order-status": {
		usage: "show an order status; --wait polls until it is no longer pending",
		flags: func(fs *pflag.FlagSet) {
			fs.Bool("wait", false, "poll while PENDING_PAYMENT")
			fs.Duration("interval", client.DefaultPollInterval, "poll interval")
			fs.Bool("full", false, "print the whole order instead of its status")
		},
		run: func(ctx context.Context, e *env) error {
			if err := need(e, 1, "order-status <order-id>"); err != nil {
				return err
			}
			if flag(e, "full") {
				o, err := e.api.GetOrder(ctx, e.args[0])
				if err != nil {
					return err
				}
				return e.print(o)
			}
			if !flag(e, "wait") {
				st, err := e.api.GetOrderStatus(ctx, e.args[0])
				if err != nil {
					return err
				}
				return e.print(st)
			}
			interval, _ := e.flags.GetDuration("interval")
			st, err := e.api.PollOrderStatus(ctx, e.args[0], interval)
			if err != nil {
				return err
			}
			return e.print(st)
		},
	},
	"cancel-order": {
		usage: "cancel a pending order",
		run: func(ctx context.Context, e *env) error {
			if err := need(e, 1, "cancel-order <order-id>"); err != nil {
				return err
			}
			o, err := e.api.CancelOrder(ctx, e.args[0])
			if err != nil {
				return err
			}
			return e.print(o)
		},
	},
	"pay": {
		usage: "confirm a payment: pay <payment-key> <order-id> <amount>",
		run: func(ctx context.Context, e *env) error {
			if err := need(e, 3, "pay <payment-key> <order-id> <amount>"); err != nil {
				return err
			}
			amount, err := decimal.NewFromString(e.args[2])
			if err != nil {
				return fmt.Errorf("invalid amount %q", e.args[2])
			}
			res, err := e.api.ConfirmPayment(ctx, e.args[0], e.args[1], amount)
			if err != nil {
				return err
			}
			return e.print(res)
		},
	},

	"room-create": {
		usage: "open a waiting room for a paid order",
		flags: func(fs *pflag.FlagSet) {
			fs.String("order", "", "paid order id")
			fs.String("name", "", "capsule name")
			fs.String("open-date", "", "RFC 3339 open date (default from the time option)")
			location(fs)
		},
		run: func(ctx context.Context, e *env) error {
			req := client.CreateRoomRequest{OrderID: str(e, "order"), CapsuleName: str(e, "name")}
			if s := str(e, "open-date"); s != "" {
				t, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return fmt.Errorf("invalid --open-date: %w", err)
				}
				req.OpenDate = &t
			}
			if e.flags.Changed("lat") && e.flags.Changed("lng") {
				lat, lng := num(e, "lat"), num(e, "lng")
				req.Latitude, req.Longitude = &lat, &lng
			}
			room, err := e.api.CreateRoom(ctx, req)
			if err != nil {
				return err
			}
			return e.print(room)
		},
	},
	"room": {
		usage: "show a waiting room and whether it can be submitted",
		run: func(ctx context.Context, e *env) error {
			if err := need(e, 1, "room <room-id>"); err != nil {
				return err
			}
			id, err := idArg(e, 0)
			if err != nil {
				return err
			}
			me, err := e.api.Me(ctx)
			if err != nil {
				return err
			}
			state, err := roomState(ctx, e, id, me.ID, roomclient.NewCompletionTracker())
			if err != nil {
				return err
			}
			return e.print(state)
		},
	},
	"join": {
		usage: "join a waiting room: join <room-id> <invite-code>",
		run: func(ctx context.Context, e *env) error {
			if err := need(e, 2, "join <room-id> <invite-code>"); err != nil {
				return err
			}
			id, err := idArg(e, 0)
			if err != nil {
				return err
			}
			res, err := e.api.JoinRoom(ctx, id, e.args[1])
			if err != nil {
				return err
			}
			return e.print(map[string]any{"result": res, "already_member": res.AlreadyMember})
		},
	},
	"write": {
		usage: "create or update your content; --watch keeps editing from stdin with autosave",
		flags: func(fs *pflag.FlagSet) {
			fs.String("text", "", "message text")
			fs.StringSlice("image", nil, "image URL (repeatable)")
			fs.String("music", "", "music URL")
			fs.String("video", "", "video URL")
			fs.Bool("watch", false, "append stdin lines to the text, saving after each pause")
		},
		run: func(ctx context.Context, e *env) error {
			if err := need(e, 1, "write <room-id>"); err != nil {
				return err
			}
			id, err := idArg(e, 0)
			if err != nil {
				return err
			}
			images, _ := e.flags.GetStringSlice("image")
			req := client.ContentRequest{Text: str(e, "text"), Images: images, Music: str(e, "music"), Video: str(e, "video")}
			return writeContent(ctx, e, id, req, flag(e, "watch"))
		},
	},
	"submit": {
		usage: "bury a waiting room at --lat/--lng",
		flags: location,
		run: func(ctx context.Context, e *env) error {
			if err := need(e, 1, "submit <room-id>"); err != nil {
				return err
			}
			id, err := idArg(e, 0)
			if err != nil {
				return err
			}
			s := &roomclient.Submitter{API: e.api, Locator: roomclient.FixedLocator(point(e))}
			res, err := s.Submit(ctx, id)
			if err != nil {
				return err
			}
			return e.print(res)
		},
	},

	"nearby": {
		usage: "list capsules near --lat/--lng and the ones you can open",
		flags: func(fs *pflag.FlagSet) { location(fs); fs.Float64("radius", 0, "search radius in meters") },
		run: func(ctx context.Context, e *env) error {
			me, err := e.api.Me(ctx)
			if err != nil {
				return err
			}
			list, err := e.api.Nearby(ctx, num(e, "lat"), num(e, "lng"), num(e, "radius"))
			if err != nil {
				return err
			}
			return e.print(map[string]any{
				"capsules":     list,
				"discoverable": discovery.BuildQueue(list, point(e), me.ID, nil),
			})
		},
	},
	"discover": {
		usage: "walk the map from --lat/--lng; stdin gives one \"lat,lng\" position per line",
		flags: func(fs *pflag.FlagSet) { location(fs); fs.Float64("radius", 0, "search radius in meters") },
		run: func(ctx context.Context, e *env) error {
			start := point(e)
			if !start.Valid() {
				return fmt.Errorf("invalid start position %v", start)
			}
			return discover(ctx, e, start, num(e, "radius"))
		},
	},
	"view": {
		usage: "open an easter egg from --lat/--lng",
		flags: location,
		run: func(ctx context.Context, e *env) error {
			if err := need(e, 1, "view <capsule-id>"); err != nil {
				return err
			}
			id, err := idArg(e, 0)
			if err != nil {
				return err
			}
			egg, err := e.api.ViewCapsule(ctx, id, num(e, "lat"), num(e, "lng"))
			if err != nil {
				return err
			}
			for i, u := range egg.MediaURLs {
				egg.MediaURLs[i] = e.cfg.MediaURL(u)
			}
			return e.print(egg)
		},
	},
	"egg": {
		usage: "bury an easter egg at --lat/--lng",
		flags: func(fs *pflag.FlagSet) {
			location(fs)
			fs.String("title", "", "title")
			fs.String("content", "", "message")
			fs.StringSlice("media", nil, "media URL (repeatable)")
			fs.Int("limit", 0, "how many people may discover it (0 uses the default)")
		},
		run: func(ctx context.Context, e *env) error {
			urls, _ := e.flags.GetStringSlice("media")
			egg, err := e.api.CreateEgg(ctx, client.EggRequest{
				Title: str(e, "title"), Content: str(e, "content"), MediaURLs: urls,
				Latitude: num(e, "lat"), Longitude: num(e, "lng"), ViewLimit: integer(e, "limit"),
			})
			if err != nil {
				return err
			}
			return e.print(egg)
		},
	},
	"slots": {
		usage: "show easter egg slots; --reset retires your eggs",
		flags: func(fs *pflag.FlagSet) { fs.Bool("reset", false, "retire every active egg") },
		run: func(ctx context.Context, e *env) error {
			get := e.api.Slots
			if flag(e, "reset") {
				get = e.api.ResetSlots
			}
			s, err := get(ctx)
			if err != nil {
				return err
			}
			return e.print(s)
		},
	},
	"my-eggs": {
		usage: "list your capsules and who found them",
		flags: func(fs *pflag.FlagSet) { fs.String("type", "", "EASTER_EGG or TIME_CAPSULE") },
		run: func(ctx context.Context, e *env) error {
			list, err := e.api.MyEggs(ctx, str(e, "type"))
			if err != nil {
				return err
			}
			return e.print(list)
		},
	},

	"notices": {
		usage: "list notices, or show one: notices [id]",
		flags: func(fs *pflag.FlagSet) { fs.Int("page", 1, "page"); fs.Int("size", 20, "page size") },
		run: func(ctx context.Context, e *env) error {
			if len(e.args) > 0 {
				id, err := idArg(e, 0)
				if err != nil {
					return err
				}
				n, err := e.api.Notice(ctx, id)
				if err != nil {
					return err
				}
				return e.print(n)
			}
			p, err := e.api.Notices(ctx, integer(e, "page"), integer(e, "size"))
			if err != nil {
				return err
			}
			return e.print(p)
		},
	},
	"inquiries": {
		usage: "list your support inquiries",
		run: func(ctx context.Context, e *env) error {
			list, err := e.api.Inquiries(ctx)
			if err != nil {
				return err
			}
			return e.print(list)
		},
	},
	"inquire": {
		usage: "open a support inquiry; the message is the remaining arguments",
		flags: func(fs *pflag.FlagSet) {
			fs.String("title", "", "title")
			fs.String("category", "GENERAL", "category")
		},
		run: func(ctx context.Context, e *env) error {
			if err := need(e, 1, "inquire --title T <message>"); err != nil {
				return err
			}
			inq, err := e.api.OpenInquiry(ctx, str(e, "title"), str(e, "category"), joinArgs(e))
			if err != nil {
				return err
			}
			return e.print(inq)
		},
	},
	"messages": {
		usage: "show the messages of an inquiry",
		run: func(ctx context.Context, e *env) error {
			if err := need(e, 1, "messages <inquiry-id>"); err != nil {
				return err
			}
			id, err := idArg(e, 0)
			if err != nil {
				return err
			}
			msgs, err := e.api.Messages(ctx, id, "")
			if err != nil {
				return err
			}
			log := client.NewMessageLog()
			log.Load(msgs)
			return e.print(log.Entries())
		},
	},
	"upload": {
		usage: "upload a media file: upload <image|audio|video> <path>",
		run: func(ctx context.Context, e *env) error {
			if err := need(e, 2, "upload <kind> <path>"); err != nil {
				return err
			}
			kind, err := media.ParseKind(e.args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(e.args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			stored, err := e.api.UploadMedia(ctx, kind, filepath.Base(e.args[1]), f)
			if err != nil {
				return err
			}
			stored.URL = e.cfg.MediaURL(stored.URL)
			return e.print(stored)
		},
	},
}
