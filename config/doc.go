/*
Package config は、YAMLの設定ファイルからコネクションとコネクションプールを構築するパッケージです。

	f, err := config.Load("wsconn.yaml")
	if err != nil {
		return err
	}
	rt, err := f.Build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	p, err := rt.NewPool(ctx)

省略した項目にはwsconn及びpoolのデフォルト値が使用されます。
*/
package config
