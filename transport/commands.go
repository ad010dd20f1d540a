package transport

import (
	"strconv"
	"strings"

	"github.com/luma/conduit/internal/meta"
	"github.com/luma/conduit/protocol"
)

const numDatabases = 16

type handler func(c *TCPConn, args [][]byte, out []byte) []byte

type command struct {
	handler handler
	// arity counts the keyword, negative means at least -arity
	arity int
	// noAuth commands run before AUTH
	noAuth bool
	// subscribed commands are allowed in RESP2 subscribed mode
	subscribed bool
}

var commands map[protocol.Keyword]command

func init() {
	commands = map[protocol.Keyword]command{
		protocol.PING:         {handler: cmdPing, arity: -1, subscribed: true},
		protocol.ECHO:         {handler: cmdEcho, arity: 2},
		protocol.QUIT:         {handler: cmdQuit, arity: 1, noAuth: true, subscribed: true},
		protocol.HELLO:        {handler: cmdHello, arity: -1, noAuth: true},
		protocol.AUTH:         {handler: cmdAuth, arity: -2, noAuth: true},
		protocol.SELECT:       {handler: cmdSelect, arity: 2},
		protocol.CLIENT:       {handler: cmdClient, arity: -2},
		protocol.GET:          {handler: cmdGet, arity: 2},
		protocol.SET:          {handler: cmdSet, arity: 3},
		protocol.DEL:          {handler: cmdDel, arity: -2},
		protocol.SADD:         {handler: cmdSAdd, arity: -3},
		protocol.SREM:         {handler: cmdSRem, arity: -3},
		protocol.SCARD:        {handler: cmdSCard, arity: 2},
		protocol.SMEMBERS:     {handler: cmdSMembers, arity: 2},
		protocol.SISMEMBER:    {handler: cmdSIsMember, arity: 3},
		protocol.SSCAN:        {handler: cmdSScan, arity: -3},
		protocol.PUBLISH:      {handler: cmdPublish, arity: 3},
		protocol.PUBSUB:       {handler: cmdPubSub, arity: -2},
		protocol.SUBSCRIBE:    {handler: cmdSubscribe, arity: -2, subscribed: true},
		protocol.PSUBSCRIBE:   {handler: cmdPSubscribe, arity: -2, subscribed: true},
		protocol.UNSUBSCRIBE:  {handler: cmdUnsubscribe, arity: -1, subscribed: true},
		protocol.PUNSUBSCRIBE: {handler: cmdPUnsubscribe, arity: -1, subscribed: true},
	}
}

func (t *TCP) dispatch(c *TCPConn, keyword protocol.Keyword, args [][]byte, out []byte) []byte {
	name := strings.ToLower(string(keyword))

	cmd, ok := commands[keyword]
	if !ok {
		t.metrics.command("unknown")
		return appendError(out, "ERR unknown command '"+string(args[0])+"'")
	}

	t.metrics.command(string(keyword))

	if (cmd.arity > 0 && len(args) != cmd.arity) || (cmd.arity < 0 && len(args) < -cmd.arity) {
		return appendError(out, "ERR wrong number of arguments for '"+name+"' command")
	}

	if !c.authed && !cmd.noAuth {
		return appendError(out, "NOAUTH Authentication required.")
	}

	if c.resp.Load() == 2 && c.subscriptions() > 0 && !cmd.subscribed {
		return appendError(out, "ERR Can't execute '"+name+"': only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT are allowed in this context")
	}

	return cmd.handler(c, args[1:], out)
}

func appendError(out []byte, msg string) []byte {
	return protocol.AppendValue(out, protocol.NewError(msg))
}

func appendOK(out []byte) []byte {
	return protocol.AppendValue(out, protocol.NewSimpleString("OK"))
}

func appendInt(out []byte, n int) []byte {
	return protocol.AppendValue(out, protocol.NewInteger(int64(n)))
}

func appendStoreError(out []byte, err error) []byte {
	return appendError(out, err.Error())
}

func (t *TCPConn) null() protocol.Value {
	if t.resp.Load() == 3 {
		return protocol.NewNull()
	}
	return protocol.NullBulk()
}

func bulks(ss []string) []protocol.Value {
	elems := make([]protocol.Value, 0, len(ss))
	for _, s := range ss {
		elems = append(elems, protocol.NewBulkString(s))
	}
	return elems
}

func strs(args [][]byte) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		out = append(out, string(a))
	}
	return out
}

func cmdPing(c *TCPConn, args [][]byte, out []byte) []byte {
	if len(args) > 1 {
		return appendError(out, "ERR wrong number of arguments for 'ping' command")
	}

	if c.resp.Load() == 2 && c.subscriptions() > 0 {
		msg := protocol.NewBulkString("")
		if len(args) == 1 {
			msg = protocol.NewBulk(args[0])
		}
		return protocol.AppendValue(out, protocol.NewArray(protocol.NewBulkString("pong"), msg))
	}

	if len(args) == 1 {
		return protocol.AppendValue(out, protocol.NewBulk(args[0]))
	}
	return protocol.AppendValue(out, protocol.NewSimpleString("PONG"))
}

func cmdEcho(c *TCPConn, args [][]byte, out []byte) []byte {
	return protocol.AppendValue(out, protocol.NewBulk(args[0]))
}

func cmdQuit(c *TCPConn, args [][]byte, out []byte) []byte {
	c.quit = true
	return appendOK(out)
}

func (t *TCP) checkPassword(user, pass string) bool {
	return (user == "" || user == "default") && pass == t.password
}

func cmdAuth(c *TCPConn, args [][]byte, out []byte) []byte {
	if len(args) > 2 {
		return appendError(out, "ERR syntax error")
	}

	if c.server.password == "" {
		return appendError(out, "ERR AUTH <password> called without any password configured for the default user. Are you sure your configuration is correct?")
	}

	user, pass := "", string(args[0])
	if len(args) == 2 {
		user, pass = string(args[0]), string(args[1])
	}

	if !c.server.checkPassword(user, pass) {
		return appendError(out, "WRONGPASS invalid username-password pair or user is disabled.")
	}

	c.authed = true
	return appendOK(out)
}

func cmdHello(c *TCPConn, args [][]byte, out []byte) []byte {
	version := int(c.resp.Load())

	if len(args) > 0 {
		v, err := strconv.Atoi(string(args[0]))
		if err != nil {
			return appendError(out, "ERR Protocol version is not an integer or out of range")
		}
		if v != 2 && v != 3 {
			return appendError(out, "NOPROTO unsupported protocol version")
		}
		version = v

		for i := 1; i < len(args); i++ {
			switch strings.ToUpper(string(args[i])) {
			case "AUTH":
				if i+2 >= len(args) {
					return appendError(out, "ERR syntax error")
				}
				if !c.server.checkPassword(string(args[i+1]), string(args[i+2])) {
					return appendError(out, "WRONGPASS invalid username-password pair or user is disabled.")
				}
				c.authed = true
				i += 2

			case "SETNAME":
				if i+1 >= len(args) {
					return appendError(out, "ERR syntax error")
				}
				c.name = string(args[i+1])
				i++

			default:
				return appendError(out, "ERR syntax error")
			}
		}
	}

	if !c.authed {
		return appendError(out, "NOAUTH HELLO must be called with the client already authenticated, otherwise the HELLO <proto> AUTH <user> <pass> option can be used to authenticate the client and select the RESP protocol version at the same time")
	}

	c.resp.Store(int32(version))

	pairs := []protocol.Value{
		protocol.NewBulkString("server"), protocol.NewBulkString("conduit"),
		protocol.NewBulkString("version"), protocol.NewBulkString(meta.ReleaseVersion()),
		protocol.NewBulkString("proto"), protocol.NewInteger(int64(version)),
		protocol.NewBulkString("id"), protocol.NewInteger(c.id),
		protocol.NewBulkString("mode"), protocol.NewBulkString("standalone"),
		protocol.NewBulkString("role"), protocol.NewBulkString("master"),
		protocol.NewBulkString("modules"), protocol.NewArray(),
	}

	if version == 3 {
		return protocol.AppendValue(out, protocol.NewMap(pairs...))
	}
	return protocol.AppendValue(out, protocol.NewArray(pairs...))
}

func cmdSelect(c *TCPConn, args [][]byte, out []byte) []byte {
	db, err := strconv.Atoi(string(args[0]))
	if err != nil {
		return appendError(out, "ERR value is not an integer or out of range")
	}
	if db < 0 || db >= numDatabases {
		return appendError(out, "ERR DB index is out of range")
	}

	c.db = db
	return appendOK(out)
}

func cmdClient(c *TCPConn, args [][]byte, out []byte) []byte {
	switch strings.ToUpper(string(args[0])) {
	case "SETNAME":
		if len(args) != 2 {
			return appendError(out, "ERR wrong number of arguments for 'client|setname' command")
		}
		if strings.ContainsAny(string(args[1]), " \n") {
			return appendError(out, "ERR Client names cannot contain spaces, newlines or special characters.")
		}
		c.name = string(args[1])
		return appendOK(out)

	case "GETNAME":
		if c.name == "" {
			return protocol.AppendValue(out, c.null())
		}
		return protocol.AppendValue(out, protocol.NewBulkString(c.name))

	case "ID":
		return protocol.AppendValue(out, protocol.NewInteger(c.id))
	}

	return appendError(out, "ERR unknown subcommand '"+string(args[0])+"'")
}

func cmdGet(c *TCPConn, args [][]byte, out []byte) []byte {
	value, ok, err := c.server.store.Get(c.ctx, c.db, string(args[0]))
	if err != nil {
		return appendStoreError(out, err)
	}
	if !ok {
		return protocol.AppendValue(out, c.null())
	}
	return protocol.AppendValue(out, protocol.NewBulk(value))
}

func cmdSet(c *TCPConn, args [][]byte, out []byte) []byte {
	if err := c.server.store.Set(c.ctx, c.db, string(args[0]), args[1]); err != nil {
		return appendStoreError(out, err)
	}
	return appendOK(out)
}

func cmdDel(c *TCPConn, args [][]byte, out []byte) []byte {
	n, err := c.server.store.Del(c.ctx, c.db, strs(args)...)
	if err != nil {
		return appendStoreError(out, err)
	}
	return appendInt(out, n)
}

func cmdSAdd(c *TCPConn, args [][]byte, out []byte) []byte {
	n, err := c.server.store.SAdd(c.ctx, c.db, string(args[0]), strs(args[1:])...)
	if err != nil {
		return appendStoreError(out, err)
	}
	return appendInt(out, n)
}

func cmdSRem(c *TCPConn, args [][]byte, out []byte) []byte {
	n, err := c.server.store.SRem(c.ctx, c.db, string(args[0]), strs(args[1:])...)
	if err != nil {
		return appendStoreError(out, err)
	}
	return appendInt(out, n)
}

func cmdSCard(c *TCPConn, args [][]byte, out []byte) []byte {
	n, err := c.server.store.SCard(c.ctx, c.db, string(args[0]))
	if err != nil {
		return appendStoreError(out, err)
	}
	return appendInt(out, n)
}

func cmdSMembers(c *TCPConn, args [][]byte, out []byte) []byte {
	members, err := c.server.store.SMembers(c.ctx, c.db, string(args[0]))
	if err != nil {
		return appendStoreError(out, err)
	}

	if c.resp.Load() == 3 {
		return protocol.AppendValue(out, protocol.NewSet(bulks(members)...))
	}
	return protocol.AppendValue(out, protocol.NewArray(bulks(members)...))
}

func cmdSIsMember(c *TCPConn, args [][]byte, out []byte) []byte {
	ok, err := c.server.store.SIsMember(c.ctx, c.db, string(args[0]), string(args[1]))
	if err != nil {
		return appendStoreError(out, err)
	}
	if ok {
		return appendInt(out, 1)
	}
	return appendInt(out, 0)
}

func cmdSScan(c *TCPConn, args [][]byte, out []byte) []byte {
	cursor, err := strconv.Atoi(string(args[1]))
	if err != nil || cursor < 0 {
		return appendError(out, "ERR invalid cursor")
	}

	var (
		count = 10
		match func(string) bool
	)

	for i := 2; i < len(args); i += 2 {
		if i+1 >= len(args) {
			return appendError(out, "ERR syntax error")
		}

		switch strings.ToUpper(string(args[i])) {
		case "MATCH":
			p := ParsePattern(string(args[i+1]))
			match = p.Matches
		case "COUNT":
			count, err = strconv.Atoi(string(args[i+1]))
			if err != nil || count < 1 {
				return appendError(out, "ERR value is not an integer or out of range")
			}
		default:
			return appendError(out, "ERR syntax error")
		}
	}

	next, members, err := c.server.store.SScan(c.ctx, c.db, string(args[0]), cursor, count, match)
	if err != nil {
		return appendStoreError(out, err)
	}

	return protocol.AppendValue(out, protocol.NewArray(
		protocol.NewBulkString(strconv.Itoa(next)),
		protocol.NewArray(bulks(members)...),
	))
}

func cmdPublish(c *TCPConn, args [][]byte, out []byte) []byte {
	// Replies queued so far go out before any message this publish
	// delivers to c itself
	if len(out) > 0 {
		c.Write(out)
		out = nil
	}

	n := c.server.hub.Publish(string(args[0]), args[1])
	c.server.metrics.delivered(n)
	return appendInt(out, n)
}

func cmdPubSub(c *TCPConn, args [][]byte, out []byte) []byte {
	switch strings.ToUpper(string(args[0])) {
	case "CHANNELS":
		pattern := ""
		if len(args) > 1 {
			pattern = string(args[1])
		}
		return protocol.AppendValue(out, protocol.NewArray(bulks(c.server.hub.Channels(pattern))...))

	case "NUMSUB":
		pairs := make([]protocol.Value, 0, 2*(len(args)-1))
		for _, ch := range args[1:] {
			pairs = append(pairs, protocol.NewBulk(ch), protocol.NewInteger(int64(c.server.hub.NumSub(string(ch)))))
		}
		if c.resp.Load() == 3 {
			return protocol.AppendValue(out, protocol.NewMap(pairs...))
		}
		return protocol.AppendValue(out, protocol.NewArray(pairs...))

	case "NUMPAT":
		return appendInt(out, c.server.hub.NumPat())
	}

	return appendError(out, "ERR unknown subcommand '"+string(args[0])+"'")
}

func cmdSubscribe(c *TCPConn, args [][]byte, out []byte) []byte {
	for _, arg := range args {
		ch := string(arg)
		if _, ok := c.channels[ch]; !ok {
			c.channels[ch] = struct{}{}
			c.server.hub.subscribe(c, ch)
		}
		out = protocol.AppendValue(out, c.pushValue(protocol.PushSubscribe,
			protocol.NewBulkString(ch), protocol.NewInteger(int64(c.subscriptions()))))
	}
	return out
}

func cmdPSubscribe(c *TCPConn, args [][]byte, out []byte) []byte {
	for _, arg := range args {
		p := string(arg)
		if _, ok := c.patterns[p]; !ok {
			c.patterns[p] = struct{}{}
			c.server.hub.psubscribe(c, p)
		}
		out = protocol.AppendValue(out, c.pushValue(protocol.PushPSubscribe,
			protocol.NewBulkString(p), protocol.NewInteger(int64(c.subscriptions()))))
	}
	return out
}

func cmdUnsubscribe(c *TCPConn, args [][]byte, out []byte) []byte {
	names := strs(args)
	if len(names) == 0 {
		for ch := range c.channels {
			names = append(names, ch)
		}
	}

	if len(names) == 0 {
		return protocol.AppendValue(out, c.pushValue(protocol.PushUnsubscribe,
			c.null(), protocol.NewInteger(int64(c.subscriptions()))))
	}

	for _, ch := range names {
		if _, ok := c.channels[ch]; ok {
			delete(c.channels, ch)
			c.server.hub.unsubscribe(c, ch)
		}
		out = protocol.AppendValue(out, c.pushValue(protocol.PushUnsubscribe,
			protocol.NewBulkString(ch), protocol.NewInteger(int64(c.subscriptions()))))
	}
	return out
}

func cmdPUnsubscribe(c *TCPConn, args [][]byte, out []byte) []byte {
	names := strs(args)
	if len(names) == 0 {
		for p := range c.patterns {
			names = append(names, p)
		}
	}

	if len(names) == 0 {
		return protocol.AppendValue(out, c.pushValue(protocol.PushPUnsubscribe,
			c.null(), protocol.NewInteger(int64(c.subscriptions()))))
	}

	for _, p := range names {
		if _, ok := c.patterns[p]; ok {
			delete(c.patterns, p)
			c.server.hub.punsubscribe(c, p)
		}
		out = protocol.AppendValue(out, c.pushValue(protocol.PushPUnsubscribe,
			protocol.NewBulkString(p), protocol.NewInteger(int64(c.subscriptions()))))
	}
	return out
}
